// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streams

import (
	"errors"
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// Kind names a channel strategy.
type Kind string

const (
	KindPseudoTerminal Kind = "pty"
	KindPipe           Kind = "pipe"
)

// Console selects a strategy. ConsoleAuto prefers PTYs.
const (
	ConsoleAuto = "auto"
	ConsolePTY  = "pty"
	ConsolePipe = "pipe"
)

// Channel carries one captured stream from the supervisor to the
// daemon.
type Channel struct {
	// Daemon is read by the collector. The supervisor hands it to the
	// child process and closes its own copy right after spawn.
	Daemon *os.File

	// Local is written by the supervisor once redirection is active.
	Local *os.File

	Kind Kind
}

// Close releases both ends. Safe to call after either end was already
// closed elsewhere.
func (c *Channel) Close() {
	if c.Daemon != nil {
		c.Daemon.Close()
	}
	if c.Local != nil {
		c.Local.Close()
	}
}

// ChannelFactory allocates channels of one kind.
type ChannelFactory interface {
	Kind() Kind
	Open() (*Channel, error)
}

// PseudoTerminalFactory allocates PTY pairs. The daemon gets the
// master; the supervisor writes into the slave.
type PseudoTerminalFactory struct{}

func (PseudoTerminalFactory) Kind() Kind { return KindPseudoTerminal }

func (PseudoTerminalFactory) Open() (*Channel, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("allocating PTY: %w", err)
	}
	// Raw mode so the line discipline does not add carriage returns
	// or echo the daemon's reads back.
	if _, err := term.MakeRaw(int(master.Fd())); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("setting PTY raw mode: %w", err)
	}
	return &Channel{Daemon: master, Local: slave, Kind: KindPseudoTerminal}, nil
}

// PipeFactory allocates unidirectional pipes.
type PipeFactory struct{}

func (PipeFactory) Kind() Kind { return KindPipe }

func (PipeFactory) Open() (*Channel, error) {
	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating pipe: %w", err)
	}
	return &Channel{Daemon: reader, Local: writer, Kind: KindPipe}, nil
}

// ErrNoPseudoTerminal is returned by SelectFactory when PTYs were
// required but cannot be allocated.
var ErrNoPseudoTerminal = errors.New("pseudo-terminals are not available on this system")

// PseudoTerminalsAvailable reports whether a PTY pair can be allocated
// right now. It allocates and immediately releases one pair.
func PseudoTerminalsAvailable() bool {
	master, slave, err := pty.Open()
	if err != nil {
		return false
	}
	slave.Close()
	master.Close()
	return true
}

// SelectFactory picks the channel strategy for console, which is one
// of ConsoleAuto (or empty), ConsolePTY, or ConsolePipe.
func SelectFactory(console string) (ChannelFactory, error) {
	switch console {
	case "", ConsoleAuto:
		if PseudoTerminalsAvailable() {
			return PseudoTerminalFactory{}, nil
		}
		return PipeFactory{}, nil
	case ConsolePTY:
		if !PseudoTerminalsAvailable() {
			return nil, ErrNoPseudoTerminal
		}
		return PseudoTerminalFactory{}, nil
	case ConsolePipe:
		return PipeFactory{}, nil
	default:
		return nil, fmt.Errorf("unknown console mode %q (want %s, %s, or %s)", console, ConsoleAuto, ConsolePTY, ConsolePipe)
	}
}

// OpenPair allocates the stdout and stderr channels. On failure
// nothing stays open.
func OpenPair(factory ChannelFactory) (stdout, stderr *Channel, err error) {
	stdout, err = factory.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout channel: %w", err)
	}
	stderr, err = factory.Open()
	if err != nil {
		stdout.Close()
		return nil, nil, fmt.Errorf("stderr channel: %w", err)
	}
	return stdout, stderr, nil
}
