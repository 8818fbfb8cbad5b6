// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/bureau-foundation/runcapture/lib/clock"
	"github.com/bureau-foundation/runcapture/lib/env"
	"github.com/bureau-foundation/runcapture/lib/handshake"
	"github.com/bureau-foundation/runcapture/lib/launcher"
	"github.com/bureau-foundation/runcapture/lib/rundir"
	"github.com/bureau-foundation/runcapture/lib/sysinfo"
	"github.com/bureau-foundation/runcapture/lib/upload"
	"github.com/bureau-foundation/runcapture/lib/version"
)

// Defaults for Config fields left zero.
const (
	DefaultDrainTimeout   = 2 * time.Second
	DefaultSampleInterval = 30 * time.Second
	DefaultDialTimeout    = 10 * time.Second
)

// Config wires a Collector.
type Config struct {
	Descriptor *launcher.Descriptor

	// Environ carries the run identity (WANDB_RUN_DIR, WANDB_RUN_ID,
	// WANDB_PROGRAM, WANDB_MODE, WANDB_DESCRIPTION). Nil reads the
	// process environment.
	Environ env.Environ

	// Terminal receives each captured stream as it arrives. Nil
	// discards.
	TerminalStdout io.Writer
	TerminalStderr io.Writer

	// OpenStream returns the file for a descriptor number. Nil wraps
	// the inherited descriptor.
	OpenStream func(fd int) *os.File

	Logger         *slog.Logger
	Clock          clock.Clock
	DrainTimeout   time.Duration
	SampleInterval time.Duration
}

// Collector records one run.
type Collector struct {
	config     Config
	descriptor *launcher.Descriptor
	runDir     string
	metadata   *rundir.Metadata
	events     *rundir.Events
	logger     *slog.Logger
	clock      clock.Clock
	started    time.Time
}

// New validates config and prepares the run directory.
func New(config Config) (*Collector, error) {
	if config.Descriptor == nil {
		return nil, errors.New("collector: missing launch descriptor")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.TerminalStdout == nil {
		config.TerminalStdout = io.Discard
	}
	if config.TerminalStderr == nil {
		config.TerminalStderr = io.Discard
	}
	if config.OpenStream == nil {
		config.OpenStream = openInheritedStream
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultSampleInterval
	}

	runDir := env.GetRunDir(config.Environ)
	if runDir == "" {
		return nil, fmt.Errorf("collector: %s is not set", env.RunDir)
	}
	if info, err := os.Stat(runDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("collector: run directory %s is not usable: %v", runDir, err)
	}

	started := config.Clock.Now()
	host := sysinfo.Probe()
	metadata := &rundir.Metadata{
		ID:          env.GetRunID(config.Environ),
		Mode:        env.GetMode(config.Environ),
		JobType:     config.Descriptor.JobType,
		Description: env.GetDescription(config.Environ, ""),
		Program:     env.GetProgram(config.Environ, ""),
		Host:        host.Hostname,
		System:      &host,
		PID:         config.Descriptor.PID,
		DaemonPID:   os.Getpid(),
		Version:     version.Short(),
		Cloud:       config.Descriptor.Cloud,
		State:       rundir.StateRunning,
		StartedAt:   started,
		HeartbeatAt: started,
	}
	return &Collector{
		config:     config,
		descriptor: config.Descriptor,
		runDir:     runDir,
		metadata:   metadata,
		events:     rundir.NewEvents(runDir, started, config.Clock),
		logger:     config.Logger,
		clock:      config.Clock,
		started:    started,
	}, nil
}

// RunDir returns the directory the collector writes to.
func (c *Collector) RunDir() string { return c.runDir }

// Run collects until the supervisor reports the final exit code or
// goes away, finalizes the run directory, and returns the recorded
// exit code. Cancelling ctx is treated like losing the supervisor.
func (c *Collector) Run(ctx context.Context) (int, error) {
	if err := rundir.WriteMetadata(c.runDir, c.metadata); err != nil {
		return 0, err
	}
	c.appendEvent(rundir.EventStarted, map[string]any{
		"pid":        c.descriptor.PID,
		"daemon_pid": os.Getpid(),
		"cloud":      c.descriptor.Cloud,
	})

	output, err := os.OpenFile(filepath.Join(c.runDir, rundir.OutputFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening output log: %w", err)
	}
	defer output.Close()
	sharedOutput := &lockedWriter{writer: output}

	stdout := c.config.OpenStream(c.descriptor.StdoutStreamID)
	stderr := c.config.OpenStream(c.descriptor.StderrStreamID)
	copiers := []*streamCopier{
		newStreamCopier("stdout", stdout, c.config.TerminalStdout, sharedOutput, c.logger),
		newStreamCopier("stderr", stderr, c.config.TerminalStderr, sharedOutput, c.logger),
	}
	for _, copier := range copiers {
		go copier.run()
	}

	client, err := c.connect(ctx)
	if err != nil {
		c.closeStreams(copiers)
		c.finalize(rundir.ExitInterrupted, copiers)
		return rundir.ExitInterrupted, err
	}
	defer client.Close()
	if err := client.Ready(fmt.Sprintf("collector pid %d writing to %s", os.Getpid(), c.runDir)); err != nil {
		c.closeStreams(copiers)
		c.finalize(rundir.ExitInterrupted, copiers)
		return rundir.ExitInterrupted, err
	}
	c.appendEvent(rundir.EventReady, nil)
	c.logger.Info("collector ready", "run_dir", c.runDir, "supervisor_pid", c.descriptor.PID)

	sampleCtx, stopSampling := context.WithCancel(ctx)
	var samplerDone sync.WaitGroup
	samplerDone.Add(1)
	go func() {
		defer samplerDone.Done()
		c.sample(sampleCtx)
	}()

	exitCode, waitErr := client.WaitDone(ctx)
	stopSampling()
	samplerDone.Wait()

	switch {
	case waitErr == nil:
		c.appendEvent(rundir.EventDone, map[string]any{"exit_code": exitCode})
	case errors.Is(waitErr, handshake.ErrPeerLost) || ctx.Err() != nil:
		c.logger.Warn("supervisor went away without reporting an exit code", "error", waitErr)
		exitCode = rundir.ExitInterrupted
		c.appendEvent(rundir.EventParentLost, nil)
	default:
		c.logger.Error("reading final status", "error", waitErr)
		exitCode = rundir.ExitInterrupted
		c.appendEvent(rundir.EventParentLost, map[string]any{"error": waitErr.Error()})
	}

	c.finalize(exitCode, copiers)
	return exitCode, nil
}

func (c *Collector) connect(ctx context.Context) (*handshake.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()
	return handshake.Dial(dialCtx, c.descriptor.HandshakeAddress)
}

// finalize drains the streams, then writes the terminal state and the
// remaining files.
func (c *Collector) finalize(exitCode int, copiers []*streamCopier) {
	c.drain(copiers)

	c.metadata.Finish(exitCode, c.clock.Now())
	if err := rundir.WriteMetadata(c.runDir, c.metadata); err != nil {
		c.logger.Error("writing final metadata", "error", err)
	}
	if err := rundir.EnsureFiles(c.runDir); err != nil {
		c.logger.Error("completing run directory", "error", err)
	}
	c.logger.Info("run finalized", "state", c.metadata.State, "exit_code", exitCode)

	if !c.descriptor.Cloud {
		return
	}
	manifest, err := upload.Stage(c.runDir, c.metadata.ID, c.clock.Now())
	if err != nil {
		c.logger.Error("staging run for upload", "error", err)
		return
	}
	c.logger.Info("run staged for upload", "files", len(manifest.Files))
}

// drain waits for both copiers to reach end of stream. Writers that
// outlive the supervisor (its own child processes) would keep a
// stream open forever, so the wait is bounded and the streams are
// closed when it runs out.
func (c *Collector) drain(copiers []*streamCopier) {
	deadline := c.clock.After(c.config.DrainTimeout)
	for _, copier := range copiers {
		select {
		case <-copier.done:
		case <-deadline:
			c.logger.Warn("stream still open after drain budget, closing", "budget", c.config.DrainTimeout)
			c.closeStreams(copiers)
			for _, remaining := range copiers {
				<-remaining.done
			}
			return
		}
	}
}

func (c *Collector) closeStreams(copiers []*streamCopier) {
	for _, copier := range copiers {
		copier.source.Close()
	}
}

// sample appends runtime statistics and refreshes the metadata
// heartbeat until ctx is cancelled. Only this goroutine touches the
// metadata while it runs.
func (c *Collector) sample(ctx context.Context) {
	previousCPU := sysinfo.ReadCPUStats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.config.SampleInterval):
		}
		if ctx.Err() != nil {
			return
		}
		currentCPU := sysinfo.ReadCPUStats()
		var memory runtime.MemStats
		runtime.ReadMemStats(&memory)
		c.appendEvent(rundir.EventSample, map[string]any{
			"cpu_percent":    sysinfo.CPUPercent(previousCPU, currentCPU),
			"memory_used_mb": sysinfo.MemoryUsedMB(),
			"process_rss_mb": sysinfo.ProcessRSSMB(c.descriptor.PID),
			"goroutines":     runtime.NumGoroutine(),
			"heap_alloc":     memory.HeapAlloc,
			"gc_cycles":      memory.NumGC,
			"uptime_secs":    c.clock.Now().Sub(c.started).Seconds(),
		})
		previousCPU = currentCPU
		c.metadata.HeartbeatAt = c.clock.Now()
		if err := rundir.WriteMetadata(c.runDir, c.metadata); err != nil {
			c.logger.Warn("writing heartbeat", "error", err)
		}
	}
}

func (c *Collector) appendEvent(kind string, fields map[string]any) {
	if err := c.events.Append(kind, fields); err != nil {
		c.logger.Warn("appending event", "event", kind, "error", err)
	}
}
