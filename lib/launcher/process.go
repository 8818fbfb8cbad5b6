// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// DaemonBinaryName is the collector executable looked up next to the
// running binary and then on PATH.
const DaemonBinaryName = "runcapture-daemon"

// Process is a spawned daemon.
type Process interface {
	Pid() int

	// Alive reports whether the process has not exited yet.
	Alive() bool

	// Kill sends SIGKILL.
	Kill() error
}

// SpawnRequest describes one daemon start.
type SpawnRequest struct {
	// Command is the daemon executable and any leading arguments. The
	// encoded descriptor is appended as the last argument.
	Command []string

	Descriptor string

	// ExtraFiles become fd 3, 4, ... in the child.
	ExtraFiles []*os.File

	// Env is the child's full environment.
	Env []string

	// Stdout and Stderr are the daemon's own output streams: the
	// terminal the supervisor had before redirection.
	Stdout io.Writer
	Stderr io.Writer
}

// Spawner starts daemon processes.
type Spawner interface {
	Spawn(request SpawnRequest) (Process, error)
}

// ExecSpawner starts the daemon with os/exec.
type ExecSpawner struct{}

// Spawn starts the process and a goroutine that reaps it.
func (ExecSpawner) Spawn(request SpawnRequest) (Process, error) {
	if len(request.Command) == 0 {
		return nil, errors.New("spawning daemon: empty command")
	}
	arguments := append(append([]string{}, request.Command[1:]...), request.Descriptor)
	command := exec.Command(request.Command[0], arguments...)
	command.ExtraFiles = request.ExtraFiles
	command.Env = request.Env
	command.Stdout = request.Stdout
	command.Stderr = request.Stderr

	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", request.Command[0], err)
	}

	process := &execProcess{command: command, exited: make(chan struct{})}
	go process.reap()
	return process, nil
}

type execProcess struct {
	command *exec.Cmd
	exited  chan struct{}

	mu      sync.Mutex
	waitErr error
}

func (p *execProcess) reap() {
	err := p.command.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.exited)
}

func (p *execProcess) Pid() int { return p.command.Process.Pid }

// Alive checks the reaper first; a process that has not been reaped is
// probed with signal 0.
func (p *execProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
	}
	return unix.Kill(p.Pid(), 0) == nil
}

func (p *execProcess) Kill() error {
	err := p.command.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// ResolveCommand returns the daemon command. A configured path wins;
// otherwise runcapture-daemon is looked up next to the running
// executable, then on PATH.
func ResolveCommand(configured string) ([]string, error) {
	if configured != "" {
		if err := validateBinary(configured); err != nil {
			return nil, err
		}
		return []string{configured}, nil
	}
	path := findSiblingBinary(DaemonBinaryName)
	if path == "" {
		return nil, fmt.Errorf("%s not found (checked next to the running binary and PATH)", DaemonBinaryName)
	}
	if err := validateBinary(path); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

func findSiblingBinary(name string) string {
	executable, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(executable), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	path, err := exec.LookPath(name)
	if err == nil {
		return path
	}
	return ""
}

func validateBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("daemon binary %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("daemon binary %q is not a regular file (mode %s)", path, info.Mode())
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("daemon binary %q is not executable (mode %s)", path, info.Mode())
	}
	return nil
}
