// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package headless supervises a training run from inside the training
// process.
//
// [Init] decides how the run is captured ([Mode]), creates the run
// directory, starts the collector daemon, and redirects the process's
// stdout and stderr into it once the daemon reports ready. The
// returned [Run] records metrics and configuration and, through
// [Run.Join] or the process exit hook, tears capture down exactly once:
// streams restored, final exit code sent, daemon given time to finish.
//
// The mode comes from WANDB_MODE:
//
//	unset, "dryrun"  dry-run: captured locally, never synced
//	"run"            background: captured and staged for sync; needs a
//	                 configured project
//	"clirun"         external: an outer wrapper already captures output
//
// Interactive hosts (WANDB_INTERACTIVE, or [Options.Interactive]) get
// a setup prompt instead and start capture only on [Run.Monitor].
// Platforms that cannot redirect descriptors run uncaptured with a
// warning.
//
// Init is process-wide: a second call returns the same Run. The
// WANDB_INITED marker holds the initializing process's PID so a child
// process that inherits it can tell the run is not its own.
package headless
