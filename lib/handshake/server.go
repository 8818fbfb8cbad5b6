// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/runcapture/lib/codec"
)

// writeTimeout bounds how long SignalDone waits on a wedged daemon.
const writeTimeout = 10 * time.Second

// maxMessageSize bounds a single handshake message.
const maxMessageSize = 64 * 1024

// ErrNotReady is returned by SignalDone when no daemon ever completed
// the ready step.
var ErrNotReady = errors.New("handshake: daemon never reported ready")

// Server is the supervisor side of the handshake.
type Server struct {
	listener *net.TCPListener

	mu       sync.Mutex
	conn     net.Conn
	expected int
	closed   bool
}

var _ Channel = (*Server)(nil)

// Open starts listening on an ephemeral loopback port.
func Open() (*Server, error) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, fmt.Errorf("handshake: listening on loopback: %w", err)
	}
	return &Server{listener: listener}, nil
}

// Address returns host:port of the listener.
func (s *Server) Address() string { return s.listener.Addr().String() }

// Port returns the listener's port.
func (s *Server) Port() int { return s.listener.Addr().(*net.TCPAddr).Port }

// ExpectPeer restricts AwaitReady to a ready message from pid.
func (s *Server) ExpectPeer(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expected = pid
}

// AwaitReady accepts connections until one delivers a valid ready
// message. Connections that send anything else are dropped and the
// wait continues until the deadline.
func (s *Server) AwaitReady(ctx context.Context, timeout time.Duration) (bool, string) {
	deadline := time.Now().Add(timeout)
	if err := s.listener.SetDeadline(deadline); err != nil {
		return false, fmt.Sprintf("setting accept deadline: %v", err)
	}

	// Cancelling ctx forces the pending Accept or Decode to fail now.
	stop := context.AfterFunc(ctx, func() {
		s.listener.SetDeadline(time.Now())
	})
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return false, "interrupted while waiting for the collector"
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return false, fmt.Sprintf("collector did not respond within %v", timeout)
			}
			return false, fmt.Sprintf("accepting collector connection: %v", err)
		}

		message, err := s.readReady(ctx, conn, deadline)
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return false, "interrupted while waiting for the collector"
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		return true, message.Message
	}
}

func (s *Server) readReady(ctx context.Context, conn net.Conn, deadline time.Time) (Message, error) {
	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	var message Message
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&message); err != nil {
		return Message{}, fmt.Errorf("reading ready message: %w", err)
	}
	if message.Type != TypeReady {
		return Message{}, fmt.Errorf("expected %q message, got %q", TypeReady, message.Type)
	}
	s.mu.Lock()
	expected := s.expected
	s.mu.Unlock()
	if expected != 0 && message.PID != expected {
		return Message{}, fmt.Errorf("ready from pid %d, expected %d", message.PID, expected)
	}
	conn.SetReadDeadline(time.Time{})
	return message, nil
}

// SignalDone sends the final exit code and closes the channel. Only
// the first call sends anything.
func (s *Server) SignalDone(exitCode int) error {
	s.mu.Lock()
	conn := s.conn
	alreadyClosed := s.closed
	s.mu.Unlock()

	if alreadyClosed {
		return nil
	}
	defer s.Close()
	if conn == nil {
		return ErrNotReady
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Message{Type: TypeDone, ExitCode: exitCode}); err != nil {
		return fmt.Errorf("handshake: sending done: %w", err)
	}
	return nil
}

// Close releases the listener and any accepted connection. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
	}
	return s.listener.Close()
}
