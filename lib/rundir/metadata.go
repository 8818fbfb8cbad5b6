// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rundir

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/runcapture/lib/atomicfile"
	"github.com/bureau-foundation/runcapture/lib/sysinfo"
)

// Run states recorded in the metadata file.
const (
	StateRunning  = "running"
	StateFinished = "finished"
	StateFailed   = "failed"
	StateKilled   = "killed"
)

// ExitInterrupted is the exit code recorded for interrupted runs.
const ExitInterrupted = 255

// StateForExitCode maps a final exit code to a terminal state.
func StateForExitCode(code int) string {
	switch code {
	case 0:
		return StateFinished
	case ExitInterrupted:
		return StateKilled
	default:
		return StateFailed
	}
}

// Metadata is wandb-metadata.json.
type Metadata struct {
	ID          string        `json:"id"`
	Mode        string        `json:"mode"`
	JobType     string        `json:"job_type,omitempty"`
	Description string        `json:"description,omitempty"`
	Program     string        `json:"program"`
	Args        []string      `json:"args,omitempty"`
	Host        string        `json:"host"`
	System      *sysinfo.Host `json:"system,omitempty"`
	PID         int           `json:"pid"`
	DaemonPID   int           `json:"daemon_pid,omitempty"`
	Version     string        `json:"version,omitempty"`
	Cloud       bool          `json:"cloud"`
	State       string        `json:"state"`
	ExitCode    int           `json:"exitcode"`
	StartedAt   time.Time     `json:"started_at"`
	HeartbeatAt time.Time     `json:"heartbeat_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// WriteMetadata atomically replaces the run's metadata file.
func WriteMetadata(runDir string, metadata *Metadata) error {
	if err := atomicfile.WriteJSON(filepath.Join(runDir, MetadataFile), metadata); err != nil {
		return fmt.Errorf("writing run metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the run's metadata file.
func ReadMetadata(runDir string) (*Metadata, error) {
	var metadata Metadata
	if err := atomicfile.ReadJSON(filepath.Join(runDir, MetadataFile), &metadata); err != nil {
		return nil, fmt.Errorf("reading run metadata: %w", err)
	}
	return &metadata, nil
}

// Finish sets the terminal state for exitCode and the finish time.
func (m *Metadata) Finish(exitCode int, now time.Time) {
	m.ExitCode = exitCode
	m.State = StateForExitCode(exitCode)
	m.HeartbeatAt = now
	m.FinishedAt = &now
}
