// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rundir

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/runcapture/lib/clock"
)

// Event kinds written by the collector daemon.
const (
	EventStarted    = "started"
	EventReady      = "ready"
	EventSample     = "sample"
	EventDone       = "done"
	EventParentLost = "parent_lost"
)

// Events appends lifecycle records to wandb-events.jsonl. Safe for
// concurrent use.
type Events struct {
	clock   clock.Clock
	started time.Time
	path    string

	mu sync.Mutex
}

// NewEvents returns an Events writer for runDir.
func NewEvents(runDir string, started time.Time, c clock.Clock) *Events {
	return &Events{clock: c, started: started, path: filepath.Join(runDir, EventsFile)}
}

// Append writes one record of kind with the given fields. The record
// carries _event, _timestamp (Unix seconds), and _runtime.
func (e *Events) Append(kind string, fields map[string]any) error {
	now := e.clock.Now()
	record := make(map[string]any, len(fields)+3)
	for key, value := range fields {
		record[key] = value
	}
	record["_event"] = kind
	record["_timestamp"] = float64(now.UnixNano()) / float64(time.Second)
	record[RuntimeKey] = now.Sub(e.started).Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()
	return appendJSONL(e.path, record)
}
