// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/runcapture/lib/atomicfile"
	"github.com/bureau-foundation/runcapture/lib/env"
)

// SettingsFileName is the settings file inside the stage directory.
const SettingsFileName = "settings.yaml"

// DefaultBaseURL is the API endpoint used when none is configured.
const DefaultBaseURL = "https://api.wandb.ai"

// Settings configures the machine and project a run belongs to.
type Settings struct {
	// Entity is the user or team that owns the project.
	Entity string `yaml:"entity,omitempty"`

	// Project is required for real (synced) runs.
	Project string `yaml:"project,omitempty"`

	// BaseURL is the API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Console selects how output is captured: auto, pty, or pipe.
	Console string `yaml:"console,omitempty"`

	// DaemonBinary is the collector executable. Empty means look for
	// runcapture-daemon next to the running executable, then in PATH.
	DaemonBinary string `yaml:"daemon_binary,omitempty"`
}

// DefaultSettings returns the values used before any file or
// environment override.
func DefaultSettings() *Settings {
	return &Settings{
		BaseURL: DefaultBaseURL,
		Console: "auto",
	}
}

// SettingsPath returns the settings file path for a stage directory.
func SettingsPath(stageDir string) string {
	return filepath.Join(stageDir, SettingsFileName)
}

// LoadSettings reads the settings file at path, if it exists, and
// applies environment overrides from environ (nil reads the process
// environment). A missing file is not an error.
func LoadSettings(path string, environ env.Environ) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("parsing settings %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}

	settings.applyEnvironment(environ)
	settings.DaemonBinary = expandHome(settings.DaemonBinary)
	return settings, nil
}

func (s *Settings) applyEnvironment(environ env.Environ) {
	s.Entity = env.GetEntity(environ, s.Entity)
	s.Project = env.GetProject(environ, s.Project)
	s.BaseURL = env.Get(environ, env.BaseURL, s.BaseURL)
	s.Console = env.Get(environ, env.Console, s.Console)
	s.DaemonBinary = env.Get(environ, env.DaemonBin, s.DaemonBinary)
}

// Configured reports whether a real run can be created: a project must
// be known.
func (s *Settings) Configured() bool {
	return s.Project != ""
}

// Validate rejects values the supervisor cannot act on.
func (s *Settings) Validate() error {
	switch s.Console {
	case "", "auto", "pty", "pipe":
	default:
		return fmt.Errorf("settings: console must be auto, pty, or pipe, got %q", s.Console)
	}
	if s.Project != "" && strings.Contains(s.Project, "/") {
		return fmt.Errorf("settings: project %q must not contain a slash (set entity separately)", s.Project)
	}
	return nil
}

// WriteSettings atomically writes settings to path, creating the stage
// directory if needed.
func WriteSettings(path string, settings *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	return atomicfile.WriteYAML(path, settings, 0o600)
}

// ParseSlug splits "entity/project" into its parts.
func ParseSlug(slug string) (entity, project string, err error) {
	entity, project, ok := strings.Cut(strings.TrimSpace(slug), "/")
	if !ok || entity == "" || project == "" || strings.Contains(project, "/") {
		return "", "", fmt.Errorf("expected entity/project, got %q", slug)
	}
	return entity, project, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return os.ExpandEnv(path)
}
