// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shutdown tears a captured run down exactly once.
//
// Every termination path (normal exit, explicit join, interrupt,
// escaped error) calls [Coordinator.Shutdown]. The first call restores
// the output streams, tells the daemon the final exit code, waits for
// the daemon to finish writing, and kills it if it outlives the wait.
// Later calls return immediately.
package shutdown

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/runcapture/lib/clock"
	"github.com/bureau-foundation/runcapture/lib/exitcapture"
)

// Defaults for Config fields left zero.
const (
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultKillPollAttempts = 20
)

// Restorer puts one redirected stream back.
type Restorer interface {
	Name() string
	Restore() error
}

// Signaler delivers the final exit code to the daemon.
type Signaler interface {
	SignalDone(exitCode int) error
}

// Process is the daemon as seen by the coordinator.
type Process interface {
	Pid() int
	Alive() bool
	Kill() error
}

// StateSource supplies the exit state at shutdown time.
type StateSource interface {
	State() exitcapture.ExitState
}

// Config wires a Coordinator.
type Config struct {
	// Restorers are restored in order before done is sent.
	Restorers []Restorer
	Handshake Signaler
	Process   Process
	State     StateSource

	Clock            clock.Clock
	Logger           *slog.Logger
	PollInterval     time.Duration
	KillPollAttempts int
}

// Result describes what the shutdown that ran did.
type Result struct {
	ExitCode int

	// DaemonExited is true when the daemon exited on its own.
	DaemonExited bool

	// Interrupted is true when an interrupt ended the wait early.
	Interrupted bool

	// Killed is true when the daemon had to be killed.
	Killed bool
}

// Coordinator runs the shutdown sequence once.
type Coordinator struct {
	config Config

	started atomic.Bool
	done    chan struct{}
	result  Result

	interruptOnce sync.Once
	interrupt     chan struct{}
}

// New returns a Coordinator for config.
func New(config Config) *Coordinator {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.KillPollAttempts <= 0 {
		config.KillPollAttempts = DefaultKillPollAttempts
	}
	return &Coordinator{
		config:    config,
		done:      make(chan struct{}),
		interrupt: make(chan struct{}),
	}
}

// Started reports whether Shutdown has been called.
func (c *Coordinator) Started() bool { return c.started.Load() }

// Done is closed when the shutdown sequence has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Interrupt ends the final wait for the daemon early. It may be called
// before, during, or after Shutdown, any number of times.
func (c *Coordinator) Interrupt() {
	c.interruptOnce.Do(func() { close(c.interrupt) })
}

// Shutdown runs the sequence if no other call has, and reports whether
// this call ran it. A call that loses the race returns at once without
// waiting; use Done to wait for the winner.
func (c *Coordinator) Shutdown() bool {
	if !c.started.CompareAndSwap(false, true) {
		return false
	}
	defer close(c.done)

	logger := c.config.Logger
	var state exitcapture.ExitState
	if c.config.State != nil {
		state = c.config.State.State()
	}
	c.result.ExitCode = state.Code

	for _, restorer := range c.config.Restorers {
		if err := restorer.Restore(); err != nil {
			logger.Warn("restoring stream", "stream", restorer.Name(), "error", err)
		}
	}

	if c.config.Handshake != nil {
		if err := c.config.Handshake.SignalDone(state.Code); err != nil {
			logger.Warn("sending final status to collector", "exit_code", state.Code, "error", err)
		}
	}

	process := c.config.Process
	if process == nil {
		return true
	}
	c.result.DaemonExited, c.result.Interrupted = c.waitForExit(process)
	if process.Alive() {
		c.result.Killed = true
		c.killAndConfirm(process)
	}
	logger.Debug("shutdown complete",
		"exit_code", state.Code,
		"daemon_exited", c.result.DaemonExited,
		"interrupted", c.result.Interrupted,
		"killed", c.result.Killed,
	)
	return true
}

// Result returns the outcome of the sequence. Valid after Done is
// closed.
func (c *Coordinator) Result() Result {
	<-c.done
	return c.result
}

func (c *Coordinator) waitForExit(process Process) (exited, interrupted bool) {
	for process.Alive() {
		select {
		case <-c.interrupt:
			return false, true
		default:
		}
		select {
		case <-c.interrupt:
			return false, true
		case <-c.config.Clock.After(c.config.PollInterval):
		}
	}
	return true, false
}

func (c *Coordinator) killAndConfirm(process Process) {
	logger := c.config.Logger
	if err := process.Kill(); err != nil {
		logger.Warn("killing collector daemon", "pid", process.Pid(), "error", err)
	}
	for range c.config.KillPollAttempts {
		if !process.Alive() {
			return
		}
		c.config.Clock.Sleep(c.config.PollInterval)
	}
	if process.Alive() {
		logger.Error("collector daemon survived kill", "pid", process.Pid())
	}
}
