// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/runcapture/lib/clock"
	"github.com/bureau-foundation/runcapture/lib/exitcapture"
	"github.com/bureau-foundation/runcapture/lib/streams"
)

// DefaultJobType is the job type of runs that do not set one.
const DefaultJobType = "train"

// Options configures Init. The zero value is a dry-run or background
// run of job type "train" capturing os.Stdout and os.Stderr.
type Options struct {
	// JobType labels the run. WANDB_JOB_TYPE is used when empty.
	JobType string

	// Config is merged over config-defaults.yaml (or .jsonc) from the
	// working directory.
	Config map[string]any

	// AllowValueChange lets Config overwrite a default with a
	// different value.
	AllowValueChange bool

	// Reinit finishes any run this process started, clears the
	// WANDB_* markers it left, and starts a new run.
	Reinit bool

	// Interactive selects the interactive mode regardless of
	// WANDB_INTERACTIVE.
	Interactive bool

	// Dir is the base directory for run data, overriding WANDB_DIR
	// and the working directory.
	Dir string

	// Daemon is the collector command. Empty resolves the configured
	// or installed runcapture-daemon.
	Daemon []string

	// DaemonEnv adds KEY=VALUE entries to the collector's
	// environment.
	DaemonEnv []string

	// Prompter runs the interactive setup. Nil prompts on the
	// terminal.
	Prompter Prompter

	// Stdout and Stderr are the streams to capture. Nil means
	// os.Stdout and os.Stderr.
	Stdout *os.File
	Stderr *os.File

	// Logger receives supervisor diagnostics. Nil logs to
	// <dir>/wandb/debug.log when WANDB_DEBUG is set and nowhere
	// otherwise.
	Logger *slog.Logger

	// Observer is the exit observer whose hooks shut the run down.
	// Nil uses the process-wide one.
	Observer *exitcapture.Observer

	// CaptureSupported overrides platform detection.
	CaptureSupported func() bool

	Clock        clock.Clock
	ReadyTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Observer == nil {
		o.Observer = exitcapture.Install()
	}
	if o.Prompter == nil {
		o.Prompter = DefaultPrompter()
	}
	if o.CaptureSupported == nil {
		o.CaptureSupported = streams.Supported
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}
