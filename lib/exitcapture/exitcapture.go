// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exitcapture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/runcapture/lib/process"
)

// ExitState is the outcome the observer has seen so far.
type ExitState struct {
	// Code is the exit code the process will report. Zero until
	// something records otherwise.
	Code int

	// Err is the error or panic that ended user code, if any.
	Err error
}

// Interrupted reports whether the state was set by an interrupt.
func (s ExitState) Interrupted() bool {
	var interrupt *Interrupt
	return errors.As(s.Err, &interrupt)
}

// Interrupt is the captured error for a run ended by a signal.
type Interrupt struct {
	Signal os.Signal
}

func (i *Interrupt) Error() string {
	if i.Signal == nil {
		return "interrupted"
	}
	return "interrupted by " + i.Signal.String()
}

// PanicError wraps a value recovered from a panic in guarded code.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

// Unwrap exposes the panic value when it was itself an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Observer captures the exit condition of the process.
type Observer struct {
	mu    sync.Mutex
	state ExitState
	hooks []func()

	stderr io.Writer
	exit   func(int)
}

// Option configures an Observer built with New.
type Option func(*Observer)

// WithStderr sets where guarded errors and panics are reported.
func WithStderr(w io.Writer) Option {
	return func(o *Observer) { o.stderr = w }
}

// WithExit replaces os.Exit. Tests use it to observe the final code.
func WithExit(exit func(int)) Option {
	return func(o *Observer) { o.exit = exit }
}

// New builds an Observer that is not the process-wide one. Tests use
// it directly; production code calls Install.
func New(options ...Option) *Observer {
	observer := &Observer{
		stderr: os.Stderr,
		exit:   os.Exit,
	}
	for _, option := range options {
		option(observer)
	}
	return observer
}

var installed atomic.Pointer[Observer]

// Install returns the process-wide Observer, creating it on first use.
// Later calls return the same Observer.
func Install() *Observer {
	if observer := installed.Load(); observer != nil {
		return observer
	}
	installed.CompareAndSwap(nil, New())
	return installed.Load()
}

// State returns a copy of the current exit state.
func (o *Observer) State() ExitState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RecordExit records an explicit exit code. An earlier interrupt wins:
// the process was killed, whatever code the unwinding produced.
func (o *Observer) RecordExit(code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Interrupted() {
		return
	}
	o.state.Code = code
}

// RecordError records err as the reason user code ended. The code is
// 1, or 255 when err is an Interrupt. nil is ignored.
func (o *Observer) RecordError(err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Interrupted() {
		return
	}
	o.state.Err = err
	o.state.Code = process.ExitFailure
	if o.state.Interrupted() {
		o.state.Code = process.ExitInterrupted
	}
}

// RecordInterrupt records that the process is ending because of sig.
func (o *Observer) RecordInterrupt(sig os.Signal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Err = &Interrupt{Signal: sig}
	o.state.Code = process.ExitInterrupted
}

// OnExit registers a hook that Exit runs before terminating. Hooks run
// in reverse registration order.
func (o *Observer) OnExit(hook func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks = append(o.hooks, hook)
}

// RunHooks runs the registered exit hooks without exiting.
func (o *Observer) RunHooks() {
	o.mu.Lock()
	hooks := slices.Clone(o.hooks)
	o.mu.Unlock()
	for _, hook := range slices.Backward(hooks) {
		hook()
	}
}

// Exit records code, runs the exit hooks, and terminates the process
// with the recorded code. An interrupt recorded earlier keeps 255.
func (o *Observer) Exit(code int) {
	o.RecordExit(code)
	o.RunHooks()
	o.exit(o.State().Code)
}

// Guard runs fn as the top-level error boundary for user code. A
// returned error or a panic is recorded, reported on stderr, and
// returned (a panic comes back as *PanicError). Guard itself never
// panics and never exits.
func (o *Observer) Guard(fn func() error) (err error) {
	defer func() {
		if value := recover(); value != nil {
			panicErr := &PanicError{Value: value, Stack: debug.Stack()}
			o.RecordError(panicErr)
			fmt.Fprintf(o.stderr, "%v\n\n%s", panicErr, panicErr.Stack)
			err = panicErr
		}
	}()

	err = fn()
	if err != nil {
		o.RecordError(err)
		var interrupt *Interrupt
		if !errors.As(err, &interrupt) {
			fmt.Fprintf(o.stderr, "error: %v\n", err)
		}
	}
	return err
}
