// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/bureau-foundation/runcapture/lib/codec"
)

// ErrPeerLost is returned by WaitDone when the supervisor went away
// without sending done.
var ErrPeerLost = errors.New("handshake: supervisor closed the channel without reporting an exit code")

// Client is the daemon side of the handshake.
type Client struct {
	conn net.Conn
}

// Dial connects to the supervisor's rendezvous address.
func Dial(ctx context.Context, address string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("handshake: connecting to %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// Ready tells the supervisor the daemon is listening.
func (c *Client) Ready(message string) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	err := codec.NewEncoder(c.conn).Encode(Message{
		Type:    TypeReady,
		PID:     os.Getpid(),
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("handshake: sending ready: %w", err)
	}
	return nil
}

// WaitDone blocks until the supervisor sends done and returns its exit
// code. A closed connection yields ErrPeerLost. Cancelling ctx
// unblocks the read and returns ctx.Err().
func (c *Client) WaitDone(ctx context.Context) (int, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	var message Message
	err := codec.NewDecoder(io.LimitReader(c.conn, maxMessageSize)).Decode(&message)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
			return 0, ErrPeerLost
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return 0, ErrPeerLost
		}
		return 0, fmt.Errorf("handshake: reading done: %w", err)
	}
	if message.Type != TypeDone {
		return 0, fmt.Errorf("handshake: expected %q message, got %q", TypeDone, message.Type)
	}
	return message.ExitCode, nil
}

// Close drops the connection.
func (c *Client) Close() error { return c.conn.Close() }
