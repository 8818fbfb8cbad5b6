// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/runcapture/lib/config"
	"github.com/bureau-foundation/runcapture/lib/env"
	"github.com/bureau-foundation/runcapture/lib/exitcapture"
	"github.com/bureau-foundation/runcapture/lib/launcher"
	"github.com/bureau-foundation/runcapture/lib/rundir"
	"github.com/bureau-foundation/runcapture/lib/shutdown"
	"github.com/bureau-foundation/runcapture/lib/termlog"
)

// Run is the process's run. Identity, mode, and directory are fixed
// once Init returns.
type Run struct {
	id          string
	jobType     string
	mode        Mode
	dir         string
	stageDir    string
	description string
	program     string
	started     time.Time
	environ     env.Environ
	debug       bool
	config      *config.RunConfig
	settings    *config.Settings
	history     *rundir.History

	options  Options
	observer *exitcapture.Observer
	logger   *slog.Logger

	mu           sync.Mutex
	printer      *termlog.Printer
	session      *launcher.Session
	coordinator  *shutdown.Coordinator
	cancelLaunch context.CancelFunc
}

// ID returns the run's identifier.
func (r *Run) ID() string { return r.id }

// JobType returns the run's job type.
func (r *Run) JobType() string { return r.jobType }

// Mode returns how the run is captured.
func (r *Run) Mode() Mode { return r.mode }

// Dir returns the run directory. Empty for unsupported runs.
func (r *Run) Dir() string { return r.dir }

// Description returns WANDB_DESCRIPTION as it was at Init.
func (r *Run) Description() string { return r.description }

// Environ returns a copy of the environment as it was at Init.
func (r *Run) Environ() env.Environ { return r.environ.Copy() }

// Config returns the run configuration.
func (r *Run) Config() *config.RunConfig { return r.config }

// Capturing reports whether output currently goes to the collector.
func (r *Run) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coordinator != nil && !r.coordinator.Started()
}

// Log commits row to the run history. A no-op for unsupported runs.
func (r *Run) Log(row map[string]any) error {
	if r.history == nil {
		return nil
	}
	return r.history.Add(row)
}

// LogPartial merges row into the pending history row without
// committing it; the next Log (or Join) commits the combined row.
func (r *Run) LogPartial(row map[string]any) {
	if r.history == nil {
		return
	}
	r.history.Update(row)
}

// Summary returns the latest value of every logged key.
func (r *Run) Summary() map[string]any {
	if r.history == nil {
		return map[string]any{}
	}
	return r.history.Summary()
}

// Save links path into the run directory so it is kept (and staged
// for sync) with the run. Returns the path of the link.
func (r *Run) Save(path string) (string, error) {
	if r.dir == "" {
		return "", nil
	}
	return rundir.Link(r.dir, path)
}

// Monitor starts capture for an interactive run. Runs that already
// capture, or cannot, are left alone.
func (r *Run) Monitor(ctx context.Context) error {
	if r.mode != ModeInteractive {
		return nil
	}
	r.mu.Lock()
	started := r.coordinator != nil
	r.mu.Unlock()
	if started {
		return nil
	}
	return r.startCapture(ctx, true)
}

// Join commits any pending history row and shuts capture down: streams
// restored, final exit code sent, collector awaited. Safe to call
// more than once and concurrently with the exit hook.
func (r *Run) Join() error {
	var flushErr error
	if r.history != nil {
		flushErr = r.history.Flush()
	}
	r.shutdown()
	return flushErr
}

// Close is Join.
func (r *Run) Close() error { return r.Join() }

// HandleInterrupt processes an interrupt signal. One that arrives
// while the collector is starting fails the launch, and one that
// arrives while shutdown is waiting for the collector cuts the wait
// short; both return false. Otherwise it records exit code 255, shuts
// down if needed, and returns true: the caller should exit.
func (r *Run) HandleInterrupt(sig os.Signal) bool {
	r.mu.Lock()
	coordinator := r.coordinator
	cancelLaunch := r.cancelLaunch
	r.mu.Unlock()
	if cancelLaunch != nil {
		r.logger.Debug("interrupt during collector launch", "signal", sig.String())
		cancelLaunch()
		return false
	}
	if coordinator != nil && coordinator.Started() {
		select {
		case <-coordinator.Done():
		default:
			coordinator.Interrupt()
			return false
		}
	}
	r.observer.RecordInterrupt(sig)
	r.Join()
	return true
}

func (r *Run) beginLaunch(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancelLaunch = cancel
	r.mu.Unlock()
	launching.Store(r)
}

func (r *Run) endLaunch() {
	launching.CompareAndSwap(r, nil)
	r.mu.Lock()
	r.cancelLaunch = nil
	r.mu.Unlock()
}

func (r *Run) shutdown() {
	r.mu.Lock()
	coordinator := r.coordinator
	r.mu.Unlock()
	if coordinator == nil {
		return
	}
	if !coordinator.Shutdown() {
		<-coordinator.Done()
		return
	}

	result := coordinator.Result()
	printer := r.currentPrinter()
	if result.Killed {
		printer.Error("collector did not finish in time and was killed; the run may be incomplete")
	}
	switch {
	case r.mode == ModeDryRun:
		printer.Log(fmt.Sprintf("Run data is saved locally in %s", r.dir))
	case result.ExitCode == 0:
		printer.Log(fmt.Sprintf("Run %s finished; data staged for sync in %s", r.id, r.dir))
	default:
		printer.Log(fmt.Sprintf("Run %s exited with code %d; data in %s", r.id, result.ExitCode, r.dir))
	}
}

func (r *Run) currentPrinter() *termlog.Printer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.printer
}
