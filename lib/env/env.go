// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package env names every environment variable runcapture reads or
// writes and provides typed getters for them. Keeping the names in one
// place avoids typos and keeps their semantics consistent between the
// supervisor and the collector daemon.
//
// Every getter takes an optional explicit environment. A nil Environ
// reads the live process environment; tests and the daemon pass the
// snapshot they were handed instead.
//
// Environment variables are not the authoritative source for most of
// these values: the settings file (lib/config) and Init options are
// merged on top by the caller.
package env

import (
	"os"
	"strconv"
	"strings"
)

const (
	Mode        = "WANDB_MODE"
	Dir         = "WANDB_DIR"
	Debug       = "WANDB_DEBUG"
	Inited      = "WANDB_INITED"
	Interactive = "WANDB_INTERACTIVE"
	Description = "WANDB_DESCRIPTION"
	RunID       = "WANDB_RUN_ID"
	JobType     = "WANDB_JOB_TYPE"
	Project     = "WANDB_PROJECT"
	Entity      = "WANDB_ENTITY"
	BaseURL     = "WANDB_BASE_URL"
	APIKey      = "WANDB_API_KEY"
	Console     = "WANDB_CONSOLE"
	DaemonBin   = "WANDB_DAEMON_BINARY"
	Program     = "WANDB_PROGRAM"
	RunDir      = "WANDB_RUN_DIR"
)

// Prefix is shared by every variable above. Reset uses it to find the
// markers a previous Init left behind.
const Prefix = "WANDB_"

// Environ is a snapshot of environment variables keyed by name.
type Environ map[string]string

// Snapshot copies the current process environment.
func Snapshot() Environ {
	snapshot := make(Environ)
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		snapshot[name] = value
	}
	return snapshot
}

// Copy returns an independent copy. Callers that hand out a snapshot
// use this so readers cannot mutate the original.
func (e Environ) Copy() Environ {
	out := make(Environ, len(e))
	for name, value := range e {
		out[name] = value
	}
	return out
}

// List renders the snapshot in the KEY=VALUE form exec.Cmd.Env expects.
func (e Environ) List() []string {
	list := make([]string, 0, len(e))
	for name, value := range e {
		list = append(list, name+"="+value)
	}
	return list
}

func lookup(environ Environ, name string) (string, bool) {
	if environ == nil {
		return os.LookupEnv(name)
	}
	value, ok := environ[name]
	return value, ok
}

// Get returns the named variable or fallback when it is unset.
func Get(environ Environ, name, fallback string) string {
	if value, ok := lookup(environ, name); ok {
		return value
	}
	return fallback
}

// Bool interprets the named variable as a boolean. Unset or
// unparseable values yield fallback. "yes" and "on" are accepted in
// addition to strconv.ParseBool's spellings.
func Bool(environ Environ, name string, fallback bool) bool {
	value, ok := lookup(environ, name)
	if !ok || value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetMode returns the requested execution mode string, or "" if unset.
func GetMode(environ Environ) string { return Get(environ, Mode, "") }

// GetDir returns the base directory override, or "" if unset.
func GetDir(environ Environ) string { return Get(environ, Dir, "") }

// IsDebug reports whether debug mode is on. Debug mode keeps stderr
// local and surfaces internal errors instead of swallowing them.
func IsDebug(environ Environ) bool { return Bool(environ, Debug, false) }

// IsInteractive reports whether the process declared itself to be
// running inside a notebook-like host.
func IsInteractive(environ Environ) bool { return Bool(environ, Interactive, false) }

// GetInited returns the initialization marker, or "" if unset. The
// marker value is the PID of the process that initialized the run.
func GetInited(environ Environ) string { return Get(environ, Inited, "") }

// GetDescription returns the run description, or fallback.
func GetDescription(environ Environ, fallback string) string {
	return Get(environ, Description, fallback)
}

// GetRunID returns an externally assigned run ID, or "".
func GetRunID(environ Environ) string { return Get(environ, RunID, "") }

// GetRunDir returns the run directory the supervisor handed to the
// collector daemon.
func GetRunDir(environ Environ) string { return Get(environ, RunDir, "") }

// GetProgram returns the program name recorded in run metadata.
func GetProgram(environ Environ, fallback string) string {
	return Get(environ, Program, fallback)
}

// GetProject returns the configured project, or fallback.
func GetProject(environ Environ, fallback string) string {
	return Get(environ, Project, fallback)
}

// GetEntity returns the configured entity, or fallback.
func GetEntity(environ Environ, fallback string) string {
	return Get(environ, Entity, fallback)
}

// Reset removes every WANDB_* variable from the process environment
// except the names in keep. Returns false when no run was initialized
// in this process tree, in which case nothing is removed.
func Reset(keep ...string) bool {
	if os.Getenv(Inited) == "" {
		return false
	}
	kept := make(map[string]bool, len(keep))
	for _, name := range keep {
		kept[name] = true
	}
	for _, entry := range os.Environ() {
		name, _, _ := strings.Cut(entry, "=")
		if strings.HasPrefix(name, Prefix) && !kept[name] {
			os.Unsetenv(name)
		}
	}
	return true
}
