// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon is the collector process that owns a run's output.
//
// The supervisor spawns the collector with the read ends of two stream
// channels (stdout and stderr) and a launch descriptor naming them.
// The [Collector]:
//
//   - writes wandb-metadata.json with state "running",
//   - copies each stream to its own terminal and to output.log,
//   - reports ready over the handshake channel,
//   - appends lifecycle records and periodic samples to
//     wandb-events.jsonl,
//   - waits for the supervisor's final exit code (a dropped channel
//     counts as killed, exit code 255),
//   - drains the streams, finalizes metadata, and for cloud runs stages
//     the directory for upload.
//
// SIGINT is ignored by the binary: a Ctrl-C in the terminal reaches
// the supervisor, whose shutdown sequence tells the collector the
// outcome.
package daemon
