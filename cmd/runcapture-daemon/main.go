// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// runcapture-daemon is the collector process spawned by the run
// supervisor. It takes ownership of the supervised program's stdout
// and stderr, writes them to the terminal and to output.log, and
// records the run's lifecycle in the run directory. Its only argument
// is the JSON launch descriptor:
//
//	runcapture-daemon '{"command":"headless","pid":4242,"stdout_stream_id":3,...}'
//
// Run identity arrives through the environment (WANDB_RUN_DIR,
// WANDB_RUN_ID, WANDB_PROGRAM, WANDB_MODE).
package main

import (
	"os"

	"github.com/bureau-foundation/runcapture/daemon"
)

func main() {
	os.Exit(daemon.Main(os.Args[1:]))
}
