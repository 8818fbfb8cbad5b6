// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package launcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/runcapture/lib/clock"
	"github.com/bureau-foundation/runcapture/lib/streams"
)

type fakeProcess struct {
	pid        int
	ignoreKill bool

	mu     sync.Mutex
	alive  bool
	killed int
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed++
	if !p.ignoreKill {
		p.alive = false
	}
	return nil
}

// fakeSpawner records the request and keeps duplicates of the daemon
// ends, the way a real child would hold them after exec.
type fakeSpawner struct {
	process *fakeProcess
	err     error

	request SpawnRequest
	daemon  []*os.File
}

func (s *fakeSpawner) Spawn(request SpawnRequest) (Process, error) {
	s.request = request
	if s.err != nil {
		return nil, s.err
	}
	for _, file := range request.ExtraFiles {
		duplicate, err := unix.Dup(int(file.Fd()))
		if err != nil {
			return nil, err
		}
		s.daemon = append(s.daemon, os.NewFile(uintptr(duplicate), file.Name()))
	}
	return s.process, nil
}

type fakeHandshake struct {
	ready   bool
	message string

	expected int
	closed   bool
}

func (h *fakeHandshake) Address() string    { return "127.0.0.1:9" }
func (h *fakeHandshake) ExpectPeer(pid int) { h.expected = pid }
func (h *fakeHandshake) AwaitReady(ctx context.Context, timeout time.Duration) (bool, string) {
	return h.ready, h.message
}
func (h *fakeHandshake) SignalDone(exitCode int) error { return h.Close() }
func (h *fakeHandshake) Close() error {
	h.closed = true
	return nil
}

// captureFiles returns two temporary files standing in for stdout and
// stderr.
func captureFiles(t *testing.T) (stdout, stderr *os.File) {
	t.Helper()
	directory := t.TempDir()
	var err error
	stdout, err = os.Create(filepath.Join(directory, "stdout"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stderr, err = os.Create(filepath.Join(directory, "stderr"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		stdout.Close()
		stderr.Close()
	})
	return stdout, stderr
}

func TestLaunchRedirectsAfterReady(t *testing.T) {
	stdout, stderr := captureFiles(t)
	process := &fakeProcess{pid: 4242, alive: true}
	spawner := &fakeSpawner{process: process}
	channel := &fakeHandshake{ready: true, message: "listening"}
	launcher := &Launcher{Spawner: spawner, Clock: clock.Stepping(time.Unix(0, 0))}

	session, err := launcher.Launch(context.Background(), Request{
		Command:   []string{"/usr/bin/runcapture-daemon"},
		JobType:   "train",
		Cloud:     true,
		Factory:   streams.PipeFactory{},
		Handshake: channel,
		Stdout:    stdout,
		Stderr:    stderr,
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if session.Message != "listening" {
		t.Errorf("Message = %q", session.Message)
	}
	if channel.expected != 4242 {
		t.Errorf("ExpectPeer(%d), want 4242", channel.expected)
	}
	if !session.Stdout.Active() || !session.Stderr.Active() {
		t.Fatal("redirections not active after ready")
	}

	descriptor, err := ParseDescriptor(spawner.request.Descriptor)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if descriptor.StdoutStreamID != 3 || descriptor.StderrStreamID != 4 {
		t.Errorf("stream IDs = %d, %d", descriptor.StdoutStreamID, descriptor.StderrStreamID)
	}
	if !descriptor.Cloud || descriptor.JobType != "train" || descriptor.PID != os.Getpid() {
		t.Errorf("descriptor = %+v", descriptor)
	}
	if descriptor.HandshakeAddress != "127.0.0.1:9" {
		t.Errorf("HandshakeAddress = %q", descriptor.HandshakeAddress)
	}

	if _, err := stdout.WriteString("epoch 1\n"); err != nil {
		t.Fatalf("write to redirected stdout: %v", err)
	}
	if err := session.Stdout.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	session.Stderr.Restore()

	captured, err := io.ReadAll(spawner.daemon[0])
	if err != nil {
		t.Fatalf("reading daemon end: %v", err)
	}
	if string(captured) != "epoch 1\n" {
		t.Errorf("daemon received %q", captured)
	}
	onDisk, _ := os.ReadFile(stdout.Name())
	if len(onDisk) != 0 {
		t.Errorf("redirected output reached the original file: %q", onDisk)
	}
}

func TestLaunchDebugLeavesStderr(t *testing.T) {
	stdout, stderr := captureFiles(t)
	launcher := &Launcher{
		Spawner: &fakeSpawner{process: &fakeProcess{pid: 7, alive: true}},
		Clock:   clock.Stepping(time.Unix(0, 0)),
	}
	session, err := launcher.Launch(context.Background(), Request{
		Command:   []string{"daemon"},
		Debug:     true,
		Factory:   streams.PipeFactory{},
		Handshake: &fakeHandshake{ready: true},
		Stdout:    stdout,
		Stderr:    stderr,
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer session.Stdout.Restore()
	defer session.Stderr.Restore()
	if !session.Stdout.Active() {
		t.Error("stdout not redirected")
	}
	if session.Stderr.Active() {
		t.Error("stderr redirected in debug mode")
	}
}

func TestLaunchReadyFailureKillsDaemon(t *testing.T) {
	stdout, stderr := captureFiles(t)
	process := &fakeProcess{pid: 9, alive: true}
	channel := &fakeHandshake{ready: false, message: "collector did not respond within 30s"}
	launcher := &Launcher{
		Spawner: &fakeSpawner{process: process},
		Clock:   clock.Stepping(time.Unix(0, 0)),
	}

	_, err := launcher.Launch(context.Background(), Request{
		Command:   []string{"daemon"},
		Factory:   streams.PipeFactory{},
		Handshake: channel,
		Stdout:    stdout,
		Stderr:    stderr,
	})
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("Launch error = %v, want ErrLaunchFailed", err)
	}
	if errors.Is(err, ErrKillFailed) {
		t.Errorf("kill reported failed although the process died: %v", err)
	}
	if process.killed != 1 {
		t.Errorf("Kill called %d times, want 1", process.killed)
	}
	if !channel.closed {
		t.Error("handshake left open")
	}

	if _, err := stdout.WriteString("still here\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	onDisk, _ := os.ReadFile(stdout.Name())
	if string(onDisk) != "still here\n" {
		t.Errorf("original stdout = %q, want output to stay on it", onDisk)
	}
}

func TestLaunchKillFailure(t *testing.T) {
	stdout, stderr := captureFiles(t)
	fake := clock.Stepping(time.Unix(0, 0))
	launcher := &Launcher{
		Spawner: &fakeSpawner{process: &fakeProcess{pid: 11, alive: true, ignoreKill: true}},
		Clock:   fake,
	}

	_, err := launcher.Launch(context.Background(), Request{
		Command:   []string{"daemon"},
		Factory:   streams.PipeFactory{},
		Handshake: &fakeHandshake{ready: false},
		Stdout:    stdout,
		Stderr:    stderr,
	})
	if !errors.Is(err, ErrLaunchFailed) || !errors.Is(err, ErrKillFailed) {
		t.Fatalf("Launch error = %v, want ErrLaunchFailed and ErrKillFailed", err)
	}
	if fake.Sleeps() != DefaultKillPollAttempts {
		t.Errorf("polled %d times, want %d", fake.Sleeps(), DefaultKillPollAttempts)
	}
	if fake.Waited() != DefaultKillPollAttempts*DefaultKillPollInterval {
		t.Errorf("waited %v, want 2s", fake.Waited())
	}
}

func TestLaunchSpawnFailure(t *testing.T) {
	stdout, stderr := captureFiles(t)
	channel := &fakeHandshake{ready: true}
	launcher := &Launcher{Spawner: &fakeSpawner{err: errors.New("exec format error")}}

	_, err := launcher.Launch(context.Background(), Request{
		Command:   []string{"daemon"},
		Factory:   streams.PipeFactory{},
		Handshake: channel,
		Stdout:    stdout,
		Stderr:    stderr,
	})
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("Launch error = %v, want ErrLaunchFailed", err)
	}
	if !channel.closed {
		t.Error("handshake left open")
	}
}

func TestParseDescriptor(t *testing.T) {
	valid := Descriptor{
		Command:          CommandHeadless,
		PID:              100,
		StdoutStreamID:   3,
		StderrStreamID:   4,
		HandshakeAddress: "127.0.0.1:5000",
	}
	encoded, err := valid.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := ParseDescriptor(encoded)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if *parsed != valid {
		t.Errorf("parsed = %+v, want %+v", *parsed, valid)
	}

	tests := []struct {
		name     string
		argument string
	}{
		{"not json", "headless"},
		{"wrong command", `{"command":"sync","stdout_stream_id":3,"stderr_stream_id":4,"handshake_address":"x"}`},
		{"standard descriptor", `{"command":"headless","stdout_stream_id":1,"stderr_stream_id":4,"handshake_address":"x"}`},
		{"no address", `{"command":"headless","stdout_stream_id":3,"stderr_stream_id":4}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ParseDescriptor(test.argument); err == nil {
				t.Error("ParseDescriptor succeeded")
			}
		})
	}
}

func TestResolveCommandConfigured(t *testing.T) {
	directory := t.TempDir()
	binary := filepath.Join(directory, "collector")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	command, err := ResolveCommand(binary)
	if err != nil {
		t.Fatalf("ResolveCommand: %v", err)
	}
	if len(command) != 1 || command[0] != binary {
		t.Errorf("command = %v", command)
	}

	notExecutable := filepath.Join(directory, "data")
	if err := os.WriteFile(notExecutable, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ResolveCommand(notExecutable); err == nil {
		t.Error("ResolveCommand accepted a non-executable file")
	}
	if _, err := ResolveCommand(directory); err == nil {
		t.Error("ResolveCommand accepted a directory")
	}
}

func TestExecSpawnerReapsProcess(t *testing.T) {
	process, err := ExecSpawner{}.Spawn(SpawnRequest{
		Command:    []string{"/bin/sh", "-c", "exit 0"},
		Descriptor: "ignored",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for process.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("process still alive after exiting")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := process.Kill(); err != nil {
		t.Errorf("Kill after exit: %v", err)
	}
}
