// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/bureau-foundation/runcapture/lib/config"
	"github.com/bureau-foundation/runcapture/lib/env"
	"github.com/bureau-foundation/runcapture/lib/handshake"
	"github.com/bureau-foundation/runcapture/lib/launcher"
	"github.com/bureau-foundation/runcapture/lib/rundir"
	"github.com/bureau-foundation/runcapture/lib/shutdown"
	"github.com/bureau-foundation/runcapture/lib/streams"
	"github.com/bureau-foundation/runcapture/lib/termlog"
)

var (
	// ErrNotConfigured is returned when a synced run has no project.
	ErrNotConfigured = errors.New("no project configured")

	// ErrAlreadyInitialized is returned when the environment carries
	// the marker of a run started by another process.
	ErrAlreadyInitialized = errors.New("run already initialized")

	// ErrLaunchFailed is launcher.ErrLaunchFailed, re-exported for
	// callers that only import this package.
	ErrLaunchFailed = launcher.ErrLaunchFailed
)

var (
	// initMu serializes Init. Readers load current without it so an
	// interrupt handler never waits on a prompt or a launch.
	initMu  sync.Mutex
	current atomic.Pointer[Run]

	// launching is the run whose collector is starting, set for the
	// length of the readiness wait.
	launching atomic.Pointer[Run]

	interruptsDelivered atomic.Bool
)

// Current returns the process's run, or nil before Init.
func Current() *Run {
	return current.Load()
}

// Launching returns the run whose collector is starting, or nil. Its
// run may not be Current yet.
func Launching() *Run {
	return launching.Load()
}

// DeliverInterrupts stops launches from catching SIGINT and SIGTERM
// themselves. The caller must then pass every interrupt to
// HandleInterrupt on Launching or Current.
func DeliverInterrupts() {
	interruptsDelivered.Store(true)
}

// Init starts the process's run, or returns it if Init already
// succeeded in this process.
func Init(ctx context.Context, options Options) (*Run, error) {
	initMu.Lock()
	defer initMu.Unlock()

	options = options.withDefaults()
	if options.Reinit {
		if previous := current.Swap(nil); previous != nil {
			previous.Join()
		}
		env.Reset(env.Dir, env.Entity, env.Project, env.APIKey)
	}
	if run := current.Load(); run != nil {
		return run, nil
	}
	if owner := env.GetInited(nil); owner != "" && owner != strconv.Itoa(os.Getpid()) {
		return nil, fmt.Errorf("%w by process %s; pass Reinit to start a separate run", ErrAlreadyInitialized, owner)
	}

	run, err := start(ctx, options)
	if err != nil {
		return nil, err
	}
	current.Store(run)
	os.Setenv(env.Inited, strconv.Itoa(os.Getpid()))
	if run.id != "" {
		os.Setenv(env.RunID, run.id)
	}
	return run, nil
}

func start(ctx context.Context, options Options) (*Run, error) {
	environ := env.Snapshot()
	printer := termlog.NewPrinter(options.Stderr)

	resolver := ModeResolver{Supported: options.CaptureSupported, Interactive: options.Interactive}
	mode, err := resolver.Resolve(environ)
	if err != nil {
		printer.Error(err.Error())
		return nil, err
	}

	jobType := options.JobType
	if jobType == "" {
		jobType = env.Get(environ, env.JobType, DefaultJobType)
	}
	run := &Run{
		jobType:     jobType,
		mode:        mode,
		started:     options.Clock.Now(),
		environ:     environ,
		debug:       env.IsDebug(environ),
		description: env.GetDescription(environ, ""),
		program:     env.GetProgram(environ, filepath.Base(os.Args[0])),
		options:     options,
		observer:    options.Observer,
		logger:      options.Logger,
		printer:     printer,
		config:      config.NewRunConfig(),
	}

	if mode == ModeUnsupported {
		if run.logger == nil {
			run.logger = termlog.Discard()
		}
		printer.Log(fmt.Sprintf("output capture is not supported on %s; the run continues without it", runtime.GOOS))
		return run, nil
	}

	base := options.Dir
	if base == "" {
		base = env.GetDir(environ)
	}
	run.stageDir = rundir.StageDir(base)
	if run.logger == nil {
		run.logger = supervisorLogger(run.stageDir, run.debug)
	}

	settingsPath := config.SettingsPath(run.stageDir)
	settings, err := config.LoadSettings(settingsPath, environ)
	if err != nil {
		printer.Error(err.Error())
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		printer.Error(err.Error())
		return nil, err
	}
	run.settings = settings

	switch mode {
	case ModeInteractive:
		if err := run.setupInteractive(ctx, settingsPath); err != nil {
			printer.Error(err.Error())
			return nil, err
		}
	case ModeBackground, ModeExternal:
		if err := run.ensureConfigured(settingsPath); err != nil {
			return nil, err
		}
	}

	run.id = env.GetRunID(environ)
	if run.id == "" {
		run.id = rundir.NewID()
	}
	if existing := env.GetRunDir(environ); mode == ModeExternal && existing != "" {
		run.dir = existing
	} else {
		run.dir, err = rundir.Create(base, mode == ModeDryRun, run.started, run.id)
		if err != nil {
			printer.Error(err.Error())
			return nil, err
		}
	}

	workingDir, err := os.Getwd()
	if err != nil {
		workingDir = "."
	}
	run.config, err = config.LoadDefaults(workingDir)
	if err != nil {
		printer.Error(err.Error())
		return nil, err
	}
	if err := run.config.Update(options.Config, options.AllowValueChange); err != nil {
		printer.Error(err.Error())
		return nil, err
	}
	if err := run.config.SetRunDir(run.dir); err != nil {
		return nil, err
	}
	run.history = rundir.NewHistory(run.dir, run.started, options.Clock)
	run.logger.Debug("run initialized", "id", run.id, "mode", mode, "dir", run.dir)

	switch {
	case mode.Captures():
		if err := run.startCapture(ctx, mode.Cloud()); err != nil {
			return nil, err
		}
	case mode == ModeInteractive:
		printer.Log("Call Monitor to start capturing output for run " + run.id)
	}
	return run, nil
}

// supervisorLogger writes JSON records to debug.log in the stage
// directory when debug is on.
func supervisorLogger(stageDir string, debug bool) *slog.Logger {
	if !debug {
		return termlog.Discard()
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return termlog.Discard()
	}
	file, err := os.OpenFile(filepath.Join(stageDir, "debug.log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return termlog.Discard()
	}
	return termlog.NewLogger(file, true).With("component", "supervisor", "pid", os.Getpid())
}

// ensureConfigured requires a project for runs that will be synced.
// Debug runs skip the check.
func (r *Run) ensureConfigured(settingsPath string) error {
	if r.settings.Configured() || r.debug {
		return nil
	}
	r.printer.Error(strings.Join([]string{
		"No project configured for this run.",
		fmt.Sprintf("Set %s, add \"project:\" to %s,", env.Project, settingsPath),
		fmt.Sprintf("or set %s=%s to record the run locally.", env.Mode, modeValueDryRun),
	}, "\n"))
	return fmt.Errorf("%w: set %s or the project in %s", ErrNotConfigured, env.Project, settingsPath)
}

// setupInteractive prompts for what an unconfigured interactive run
// needs and saves the project to the settings file.
func (r *Run) setupInteractive(ctx context.Context, settingsPath string) error {
	if r.settings.Configured() {
		return nil
	}
	prompter := r.options.Prompter
	if env.Get(nil, env.APIKey, "") == "" {
		key, err := prompter.APIKey(ctx)
		if err != nil {
			return fmt.Errorf("interactive setup: %w", err)
		}
		if key != "" {
			os.Setenv(env.APIKey, key)
		}
	}
	slug, err := prompter.ProjectSlug(ctx)
	if err != nil {
		return fmt.Errorf("interactive setup: %w", err)
	}
	entity, project, err := config.ParseSlug(slug)
	if err != nil {
		return fmt.Errorf("interactive setup: %w", err)
	}
	r.settings.Entity = entity
	r.settings.Project = project
	if err := config.WriteSettings(settingsPath, r.settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	r.printer.Log(fmt.Sprintf("Saved project %s/%s to %s", entity, project, settingsPath))
	return nil
}

// startCapture launches the collector and installs the shutdown
// coordinator.
func (r *Run) startCapture(ctx context.Context, cloud bool) error {
	printer := r.currentPrinter()
	factory, err := streams.SelectFactory(r.settings.Console)
	if err != nil {
		printer.Error(err.Error())
		return fmt.Errorf("%w: %w", launcher.ErrLaunchFailed, err)
	}
	command := r.options.Daemon
	if len(command) == 0 {
		command, err = launcher.ResolveCommand(r.settings.DaemonBinary)
		if err != nil {
			printer.Error(err.Error())
			return fmt.Errorf("%w: %w", launcher.ErrLaunchFailed, err)
		}
	}
	channel, err := handshake.Open()
	if err != nil {
		printer.Error(err.Error())
		return fmt.Errorf("%w: %w", launcher.ErrLaunchFailed, err)
	}

	// An interrupt while waiting for the collector fails the launch.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !interruptsDelivered.Load() {
		var stop context.CancelFunc
		waitCtx, stop = signal.NotifyContext(waitCtx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}
	r.beginLaunch(cancel)

	spawner := &launcher.Launcher{
		Clock:        r.options.Clock,
		Logger:       r.logger,
		ReadyTimeout: r.options.ReadyTimeout,
	}
	session, err := spawner.Launch(waitCtx, launcher.Request{
		Command:   command,
		Env:       r.daemonEnv(),
		JobType:   r.jobType,
		Cloud:     cloud,
		Debug:     r.debug,
		Factory:   factory,
		Handshake: channel,
		Stdout:    r.options.Stdout,
		Stderr:    r.options.Stderr,
	})
	if err != nil {
		r.endLaunch()
		printer.Error(err.Error())
		return err
	}

	coordinator := shutdown.New(shutdown.Config{
		Restorers: []shutdown.Restorer{session.Stdout, session.Stderr},
		Handshake: session.Handshake,
		Process:   session.Process,
		State:     r.observer,
		Clock:     r.options.Clock,
		Logger:    r.logger,
	})
	printer = termlog.NewPrinter(session.Stderr.Original())

	// The launch ends and the coordinator appears in one step, so an
	// interrupt always finds one of them.
	r.mu.Lock()
	r.session = session
	r.coordinator = coordinator
	r.printer = printer
	r.cancelLaunch = nil
	r.mu.Unlock()
	launching.CompareAndSwap(r, nil)
	r.observer.OnExit(func() { r.Join() })

	printer.Log(fmt.Sprintf("Started collector process with PID %d", session.Process.Pid()))
	if r.mode == ModeDryRun {
		printer.Log(fmt.Sprintf("dryrun mode, run directory: %s", r.dir))
	} else {
		printer.Log(fmt.Sprintf("Syncing %s/%s run %s from %s", r.settings.Entity, r.settings.Project, r.id, r.dir))
	}
	r.logger.Info("capture started",
		"daemon_pid", session.Process.Pid(),
		"channel", factory.Kind(),
		"cloud", cloud,
	)
	return nil
}

// daemonEnv is the process environment plus the run identity the
// collector reads.
func (r *Run) daemonEnv() []string {
	daemonEnv := env.Snapshot()
	daemonEnv[env.RunDir] = r.dir
	daemonEnv[env.RunID] = r.id
	daemonEnv[env.Program] = r.program
	daemonEnv[env.JobType] = r.jobType
	if r.description != "" {
		daemonEnv[env.Description] = r.description
	}
	switch r.mode {
	case ModeDryRun:
		daemonEnv[env.Mode] = modeValueDryRun
	case ModeBackground, ModeInteractive:
		daemonEnv[env.Mode] = modeValueRun
	}
	for _, entry := range r.options.DaemonEnv {
		if name, value, ok := strings.Cut(entry, "="); ok {
			daemonEnv[name] = value
		}
	}
	return daemonEnv.List()
}
