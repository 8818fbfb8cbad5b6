// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the two kinds of configuration a run sees.
//
// [Settings] describe the machine and project: which entity/project a
// real run belongs to, how output is captured, where the collector
// binary lives. They come from a YAML settings file inside the stage
// directory (<base>/wandb/settings.yaml), written by the interactive
// setup flow or by hand, with WANDB_* environment variables taking
// precedence over file values.
//
// [RunConfig] holds the run's hyperparameters. Defaults are read from
// config-defaults.yaml (or config-defaults.jsonc, JSON with comments)
// in the working directory, updated with values passed to Init, and
// persisted as config.yaml in the run directory.
package config
