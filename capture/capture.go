// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/bureau-foundation/runcapture/headless"
	"github.com/bureau-foundation/runcapture/lib/exitcapture"
	"github.com/bureau-foundation/runcapture/lib/process"
)

var (
	watchOnce sync.Once
	watched   atomic.Pointer[exitcapture.Observer]
)

// Init starts the process's run and the interrupt watcher. A second
// call returns the run the first one started.
func Init(ctx context.Context, options headless.Options) (*headless.Run, error) {
	if options.Observer == nil {
		options.Observer = exitcapture.Install()
	}
	watch(options.Observer)
	return headless.Init(ctx, options)
}

// Main runs fn as the body of the program and exits. It never
// returns.
func Main(options headless.Options, fn func(ctx context.Context, run *headless.Run) error) {
	if options.Observer == nil {
		options.Observer = exitcapture.Install()
	}
	observer := options.Observer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run, err := Init(ctx, options)
	if err != nil {
		// Init already printed the guidance.
		observer.Exit(process.ExitFailure)
		return
	}
	observer.Guard(func() error { return fn(ctx, run) })
	if err := run.Join(); err != nil {
		observer.RecordError(err)
	}
	observer.Exit(observer.State().Code)
}

// Log commits row to the current run's history. Without a run it does
// nothing.
func Log(row map[string]any) error {
	run := headless.Current()
	if run == nil {
		return nil
	}
	return run.Log(row)
}

// Join finishes the current run, if there is one.
func Join() error {
	run := headless.Current()
	if run == nil {
		return nil
	}
	return run.Join()
}

// Exit shuts the current run down with code and terminates the
// process.
func Exit(code int) {
	observer := watched.Load()
	if observer == nil {
		observer = exitcapture.Install()
	}
	observer.Exit(code)
}

// watch starts the interrupt watcher the first time it is called.
// Each signal is handled on its own goroutine so a second interrupt
// can cut short the wait the first one started. Launches leave their
// interrupts to the watcher from then on.
func watch(observer *exitcapture.Observer) {
	watched.Store(observer)
	watchOnce.Do(func() {
		headless.DeliverInterrupts()
		signals := make(chan os.Signal, 2)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		go func() {
			for sig := range signals {
				go handleSignal(sig)
			}
		}()
	})
}

func handleSignal(sig os.Signal) {
	observer := watched.Load()
	run := headless.Launching()
	if run == nil {
		run = headless.Current()
	}
	if run == nil {
		observer.RecordInterrupt(sig)
		observer.Exit(process.ExitInterrupted)
		return
	}
	if run.HandleInterrupt(sig) {
		observer.Exit(process.ExitInterrupted)
	}
}
