// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streams

import (
	"errors"
	"io"
	"os"
	"sync"
)

// ErrNotSupported is returned by Activate on platforms without
// descriptor duplication.
var ErrNotSupported = errors.New("stream redirection is not supported on this platform")

type redirectionState int

const (
	stateCreated redirectionState = iota
	stateActive
	stateRestored
)

// Redirection binds one original descriptor (stdout or stderr) to the
// local end of its channel.
type Redirection struct {
	name     string
	original *os.File
	target   *os.File

	mu    sync.Mutex
	state redirectionState
	// saved is a duplicate of the original descriptor taken at
	// Activate, or -1.
	saved int
}

// NewRedirection binds original to target. Nothing changes until
// Activate.
func NewRedirection(name string, original, target *os.File) *Redirection {
	return &Redirection{name: name, original: original, target: target, saved: -1}
}

// Name returns the stream name ("stdout" or "stderr").
func (r *Redirection) Name() string { return r.name }

// Active reports whether writes to the original descriptor currently
// go to the daemon.
func (r *Redirection) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateActive
}

// Activate duplicates the target over the original descriptor. Calling
// it on an active or restored redirection is a no-op.
func (r *Redirection) Activate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateCreated {
		return nil
	}
	saved, err := redirectDescriptor(int(r.original.Fd()), int(r.target.Fd()))
	if err != nil {
		return err
	}
	r.saved = saved
	r.state = stateActive
	return nil
}

// Restore puts the original descriptor back and closes the target, so
// the daemon sees end of stream once every other writer is gone. Only
// the first call has any effect. A redirection that was never
// activated is still marked restored and its target still closed.
func (r *Redirection) Restore() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateRestored {
		return nil
	}
	var restoreErr error
	if r.state == stateActive {
		restoreErr = restoreDescriptor(int(r.original.Fd()), r.saved)
		r.saved = -1
	}
	r.state = stateRestored
	closeErr := r.target.Close()
	if restoreErr != nil {
		return restoreErr
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}

// Original returns a writer that always reaches the stream the process
// had before redirection: the saved duplicate while active, the
// original descriptor otherwise. Supervisor status messages use it so
// they never end up in output.log.
func (r *Redirection) Original() io.Writer {
	return originalWriter{redirection: r}
}

type originalWriter struct {
	redirection *Redirection
}

func (w originalWriter) Write(p []byte) (int, error) {
	r := w.redirection
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateActive && r.saved >= 0 {
		return writeDescriptor(r.saved, p)
	}
	return r.original.Write(p)
}
