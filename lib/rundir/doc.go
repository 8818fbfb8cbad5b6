// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rundir owns the on-disk layout of a run:
//
//	<base>/wandb/
//	  settings.yaml
//	  latest-run -> run-20260417_093012-k3x9q2ab
//	  run-20260417_093012-k3x9q2ab/
//	    wandb-metadata.json   lifecycle state, exit code, host facts
//	    output.log            captured stdout and stderr
//	    wandb-history.jsonl   one row per committed Log call
//	    wandb-summary.json    latest value of every logged key
//	    wandb-events.jsonl    daemon lifecycle records and samples
//	    config.yaml           run configuration
//	    debug-internal.log    daemon log
//
// Dry-runs use a "dryrun-" prefix instead of "run-". Both the
// supervisor and the collector daemon write into the directory; this
// package is the only place that knows the file names.
//
// Whole-file documents (metadata, summary) are replaced atomically via
// lib/atomicfile. Line-oriented documents (history, events) are
// appended one JSON object per line.
package rundir
