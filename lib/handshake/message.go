// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"time"
)

// Message types.
const (
	TypeReady = "ready"
	TypeDone  = "done"
)

// Message is the single wire type of the handshake.
type Message struct {
	Type     string `cbor:"type"`
	PID      int    `cbor:"pid,omitempty"`
	ExitCode int    `cbor:"exit_code,omitempty"`
	Message  string `cbor:"message,omitempty"`
}

// Channel is the supervisor's view of the handshake. The launcher and
// the shutdown coordinator depend on this contract rather than on
// Server so tests can script the daemon's behavior.
type Channel interface {
	// Address is the rendezvous address passed to the daemon.
	Address() string

	// ExpectPeer restricts AwaitReady to a ready message from pid.
	// Zero accepts any peer.
	ExpectPeer(pid int)

	// AwaitReady blocks until the daemon reports ready, timeout
	// elapses, or ctx is cancelled. The message describes the outcome.
	AwaitReady(ctx context.Context, timeout time.Duration) (ok bool, message string)

	// SignalDone sends the final exit code and tears the channel down.
	SignalDone(exitCode int) error

	// Close tears the channel down without sending done.
	Close() error
}
