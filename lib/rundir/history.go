// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rundir

import (
	"fmt"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/runcapture/lib/atomicfile"
	"github.com/bureau-foundation/runcapture/lib/clock"
)

// Reserved history keys.
const (
	StepKey    = "_step"
	RuntimeKey = "_runtime"
)

// History appends metric rows to wandb-history.jsonl and keeps
// wandb-summary.json at the latest value of every key. Safe for
// concurrent use.
type History struct {
	clock   clock.Clock
	started time.Time
	history string
	summary string

	mu      sync.Mutex
	step    int
	pending map[string]any
	latest  map[string]any
}

// NewHistory returns a History for runDir whose _runtime is measured
// from started.
func NewHistory(runDir string, started time.Time, c clock.Clock) *History {
	return &History{
		clock:   c,
		started: started,
		history: filepath.Join(runDir, HistoryFile),
		summary: filepath.Join(runDir, SummaryFile),
		latest:  make(map[string]any),
	}
}

// Add merges row into the pending row and commits it.
func (h *History) Add(row map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mergeLocked(row)
	return h.commitLocked()
}

// Update merges row into the pending row without committing. The next
// Add or Flush writes the combined row.
func (h *History) Update(row map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mergeLocked(row)
}

// Flush commits a pending row, if any.
func (h *History) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return nil
	}
	return h.commitLocked()
}

// Step returns the step the next committed row will carry.
func (h *History) Step() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.step
}

// Summary returns a copy of the latest values.
func (h *History) Summary() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.latest)
}

func (h *History) mergeLocked(row map[string]any) {
	if h.pending == nil {
		h.pending = make(map[string]any, len(row)+2)
	}
	for key, value := range row {
		if key == StepKey || key == RuntimeKey {
			continue
		}
		h.pending[key] = value
	}
}

func (h *History) commitLocked() error {
	row := h.pending
	h.pending = nil
	if row == nil {
		row = make(map[string]any, 2)
	}
	row[StepKey] = h.step
	row[RuntimeKey] = h.clock.Now().Sub(h.started).Seconds()
	if err := appendJSONL(h.history, row); err != nil {
		return err
	}
	h.step++
	for key, value := range row {
		h.latest[key] = value
	}
	return writeSummary(h.summary, h.latest)
}

func writeSummary(path string, summary map[string]any) error {
	if err := atomicfile.WriteJSON(path, summary); err != nil {
		return fmt.Errorf("writing run summary: %w", err)
	}
	return nil
}
