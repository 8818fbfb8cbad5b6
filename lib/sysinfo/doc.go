// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysinfo reads the host facts the collector records with a
// run.
//
// [Probe] returns static inventory (hostname, kernel, CPU model and
// count, total memory) for wandb-metadata.json. The sampling helpers
// feed the periodic "sample" records in wandb-events.jsonl:
//
//   - Host CPU utilization from /proc/stat ([ReadCPUStats], [CPUPercent])
//   - Host memory in use via sysinfo(2) ([MemoryUsedMB])
//   - Resident memory of the training process ([ProcessRSSMB])
//
// Everything degrades to zero values: on platforms without /proc, or
// when a file is unreadable, the run is still recorded, just with less
// detail.
package sysinfo
