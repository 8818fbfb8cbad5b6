// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/runcapture/lib/clock"
	"github.com/bureau-foundation/runcapture/lib/handshake"
	"github.com/bureau-foundation/runcapture/lib/streams"
)

// Defaults for Launcher fields left zero.
const (
	DefaultReadyTimeout     = 30 * time.Second
	DefaultKillPollInterval = 100 * time.Millisecond
	DefaultKillPollAttempts = 20
)

// Daemon-side descriptor numbers of the two stream channels.
const (
	daemonStdoutFD = 3
	daemonStderrFD = 4
)

var (
	// ErrLaunchFailed is wrapped by every Launch error.
	ErrLaunchFailed = errors.New("collector daemon failed to start")

	// ErrKillFailed is joined to ErrLaunchFailed when the daemon
	// survived the kill that followed a failed launch.
	ErrKillFailed = errors.New("failed to kill collector daemon")
)

// Launcher spawns collector daemons. The zero value uses ExecSpawner,
// the real clock, and the default timeouts.
type Launcher struct {
	Spawner          Spawner
	Clock            clock.Clock
	Logger           *slog.Logger
	ReadyTimeout     time.Duration
	KillPollInterval time.Duration
	KillPollAttempts int
}

// Request is one launch.
type Request struct {
	// Command is the daemon executable and leading arguments.
	Command []string

	// Env is the daemon's environment.
	Env []string

	JobType string
	Cloud   bool

	// Debug leaves stderr on the terminal.
	Debug bool

	Factory   streams.ChannelFactory
	Handshake handshake.Channel

	// Stdout and Stderr are the streams to capture. Nil means
	// os.Stdout and os.Stderr.
	Stdout *os.File
	Stderr *os.File

	// DaemonStdout and DaemonStderr receive the daemon's own output.
	// Nil means Stdout and Stderr as they are before redirection.
	DaemonStdout io.Writer
	DaemonStderr io.Writer
}

// Session is a running daemon with active redirection.
type Session struct {
	Process    Process
	Handshake  handshake.Channel
	Descriptor Descriptor

	// Stdout is always active after Launch. Stderr stays inactive in
	// debug mode but is still restored (which closes its channel).
	Stdout *streams.Redirection
	Stderr *streams.Redirection

	// Message is the daemon's ready message.
	Message string
}

// Restorers returns the redirections in restore order.
func (s *Session) Restorers() []*streams.Redirection {
	return []*streams.Redirection{s.Stdout, s.Stderr}
}

// Launch starts the daemon, waits for it to report ready, and activates
// redirection. ctx cancellation during the wait (an interrupt) is a
// failure. Every failure wraps ErrLaunchFailed; nothing stays
// redirected and the daemon has been killed.
func (l *Launcher) Launch(ctx context.Context, request Request) (*Session, error) {
	l.applyDefaults()
	if request.Stdout == nil {
		request.Stdout = os.Stdout
	}
	if request.Stderr == nil {
		request.Stderr = os.Stderr
	}
	if request.DaemonStdout == nil {
		request.DaemonStdout = request.Stdout
	}
	if request.DaemonStderr == nil {
		request.DaemonStderr = request.Stderr
	}
	if request.Factory == nil || request.Handshake == nil {
		return nil, fmt.Errorf("%w: launch request needs a channel factory and a handshake", ErrLaunchFailed)
	}

	stdoutChannel, stderrChannel, err := streams.OpenPair(request.Factory)
	if err != nil {
		request.Handshake.Close()
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	descriptor := Descriptor{
		Command:          CommandHeadless,
		PID:              os.Getpid(),
		StdoutStreamID:   daemonStdoutFD,
		StderrStreamID:   daemonStderrFD,
		Cloud:            request.Cloud,
		JobType:          request.JobType,
		HandshakeAddress: request.Handshake.Address(),
	}
	encoded, err := descriptor.Encode()
	if err != nil {
		stdoutChannel.Close()
		stderrChannel.Close()
		request.Handshake.Close()
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	process, err := l.Spawner.Spawn(SpawnRequest{
		Command:    request.Command,
		Descriptor: encoded,
		ExtraFiles: []*os.File{stdoutChannel.Daemon, stderrChannel.Daemon},
		Env:        request.Env,
		Stdout:     request.DaemonStdout,
		Stderr:     request.DaemonStderr,
	})
	// The daemon owns its ends now, or nobody does.
	stdoutChannel.Daemon.Close()
	stderrChannel.Daemon.Close()
	if err != nil {
		stdoutChannel.Local.Close()
		stderrChannel.Local.Close()
		request.Handshake.Close()
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	l.Logger.Debug("collector daemon spawned",
		"pid", process.Pid(),
		"channel", request.Factory.Kind(),
		"handshake", request.Handshake.Address(),
	)

	request.Handshake.ExpectPeer(process.Pid())
	ready, message := request.Handshake.AwaitReady(ctx, l.ReadyTimeout)
	if !ready {
		stdoutChannel.Local.Close()
		stderrChannel.Local.Close()
		request.Handshake.Close()
		failure := fmt.Errorf("%w: %s", ErrLaunchFailed, message)
		if killErr := l.killAndConfirm(process); killErr != nil {
			failure = errors.Join(failure, killErr)
		}
		return nil, failure
	}

	session := &Session{
		Process:    process,
		Handshake:  request.Handshake,
		Descriptor: descriptor,
		Stdout:     streams.NewRedirection("stdout", request.Stdout, stdoutChannel.Local),
		Stderr:     streams.NewRedirection("stderr", request.Stderr, stderrChannel.Local),
		Message:    message,
	}
	if err := session.Stdout.Activate(); err != nil {
		session.Stdout.Restore()
		session.Stderr.Restore()
		request.Handshake.Close()
		failure := fmt.Errorf("%w: redirecting stdout: %w", ErrLaunchFailed, err)
		if killErr := l.killAndConfirm(process); killErr != nil {
			failure = errors.Join(failure, killErr)
		}
		return nil, failure
	}
	if !request.Debug {
		if err := session.Stderr.Activate(); err != nil {
			l.Logger.Warn("stderr stays on the terminal", "error", err)
		}
	}
	return session, nil
}

// killAndConfirm kills process and polls until it is gone. A process
// still alive after the polling budget yields ErrKillFailed.
func (l *Launcher) killAndConfirm(process Process) error {
	if err := process.Kill(); err != nil {
		l.Logger.Debug("killing collector daemon", "pid", process.Pid(), "error", err)
	}
	for range l.KillPollAttempts {
		if !process.Alive() {
			return nil
		}
		l.Clock.Sleep(l.KillPollInterval)
	}
	if !process.Alive() {
		return nil
	}
	return fmt.Errorf("%w (pid %d)", ErrKillFailed, process.Pid())
}

func (l *Launcher) applyDefaults() {
	if l.Spawner == nil {
		l.Spawner = ExecSpawner{}
	}
	if l.Clock == nil {
		l.Clock = clock.Real()
	}
	if l.Logger == nil {
		l.Logger = slog.New(slog.DiscardHandler)
	}
	if l.ReadyTimeout <= 0 {
		l.ReadyTimeout = DefaultReadyTimeout
	}
	if l.KillPollInterval <= 0 {
		l.KillPollInterval = DefaultKillPollInterval
	}
	if l.KillPollAttempts <= 0 {
		l.KillPollAttempts = DefaultKillPollAttempts
	}
}
