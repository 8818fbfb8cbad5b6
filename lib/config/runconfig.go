// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/runcapture/lib/atomicfile"
)

// Defaults file names, in lookup order.
const (
	DefaultsYAML  = "config-defaults.yaml"
	DefaultsJSONC = "config-defaults.jsonc"
)

// RunConfigFileName is the persisted config inside the run directory.
const RunConfigFileName = "config.yaml"

// ErrValueChange is returned by Update when a key would change value
// without allowValueChange.
var ErrValueChange = errors.New("config value changed")

// RunConfig is a run's hyperparameters. Safe for concurrent use.
type RunConfig struct {
	mu          sync.Mutex
	values      map[string]any
	description map[string]string
	path        string
}

// NewRunConfig returns an empty RunConfig.
func NewRunConfig() *RunConfig {
	return &RunConfig{
		values:      make(map[string]any),
		description: make(map[string]string),
	}
}

// defaultEntry is the long form in a defaults file:
//
//	learning_rate:
//	  desc: step size
//	  value: 0.01
//
// The short form "learning_rate: 0.01" is accepted too.
type defaultEntry struct {
	Desc  string `yaml:"desc,omitempty" json:"desc,omitempty"`
	Value any    `yaml:"value" json:"value"`
}

// LoadDefaults reads config-defaults.yaml or config-defaults.jsonc from
// directory. Neither existing yields an empty config.
func LoadDefaults(directory string) (*RunConfig, error) {
	runConfig := NewRunConfig()

	raw, err := readDefaults(directory)
	if err != nil {
		return nil, err
	}
	for key, value := range raw {
		if key == "wandb_version" || key == "_wandb" {
			continue
		}
		if entry, ok := value.(map[string]any); ok {
			if inner, hasValue := entry["value"]; hasValue {
				runConfig.values[key] = inner
				if desc, ok := entry["desc"].(string); ok {
					runConfig.description[key] = desc
				}
				continue
			}
		}
		runConfig.values[key] = value
	}
	return runConfig, nil
}

func readDefaults(directory string) (map[string]any, error) {
	yamlPath := filepath.Join(directory, DefaultsYAML)
	data, err := os.ReadFile(yamlPath)
	if err == nil {
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", yamlPath, err)
		}
		return raw, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", yamlPath, err)
	}

	jsoncPath := filepath.Join(directory, DefaultsJSONC)
	data, err = os.ReadFile(jsoncPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", jsoncPath, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", jsoncPath, err)
	}
	return raw, nil
}

// Update merges values into the config. Changing an existing key to a
// different value fails with ErrValueChange unless allowValueChange.
// Nothing is applied when any key is rejected.
func (c *RunConfig) Update(values map[string]any, allowValueChange bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !allowValueChange {
		for key, value := range values {
			if existing, ok := c.values[key]; ok && !reflect.DeepEqual(existing, value) {
				return fmt.Errorf("%w: %q from %v to %v (pass allow value change to override)", ErrValueChange, key, existing, value)
			}
		}
	}
	for key, value := range values {
		c.values[key] = value
	}
	return c.persistLocked()
}

// Get returns a config value.
func (c *RunConfig) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	return value, ok
}

// Keys returns the config keys in sorted order.
func (c *RunConfig) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SetRunDir binds the config to a run directory and writes it there.
// Later updates are persisted automatically.
func (c *RunConfig) SetRunDir(runDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = filepath.Join(runDir, RunConfigFileName)
	return c.persistLocked()
}

func (c *RunConfig) persistLocked() error {
	if c.path == "" {
		return nil
	}
	document := map[string]any{"wandb_version": 1}
	for key, value := range c.values {
		document[key] = defaultEntry{Desc: c.description[key], Value: value}
	}
	return atomicfile.WriteYAML(c.path, document, 0o644)
}
