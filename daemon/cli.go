// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runcapture/lib/env"
	"github.com/bureau-foundation/runcapture/lib/launcher"
	"github.com/bureau-foundation/runcapture/lib/process"
	"github.com/bureau-foundation/runcapture/lib/rundir"
	"github.com/bureau-foundation/runcapture/lib/termlog"
	"github.com/bureau-foundation/runcapture/lib/version"
)

// BinaryName is the collector executable's name.
const BinaryName = launcher.DaemonBinaryName

// Main runs the collector command line and returns the process exit
// code. The recorded run exit code is not the collector's own: a
// collector that finalized the run exits 0 whatever the run's outcome.
func Main(args []string) int {
	if err := run(args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", BinaryName, err)
		return process.CodeOf(err)
	}
	return process.ExitSuccess
}

func run(args []string, stdout, stderr io.Writer) error {
	var showVersion bool
	var logLevel string

	flagSet := pflag.NewFlagSet(BinaryName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug-internal.log verbosity: debug or info")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags] <launch descriptor JSON>\n\n"+
			"Collects a run's output and metadata. Started by the supervisor;\n"+
			"not intended for direct use.\n\nFlags:\n", BinaryName)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return process.Exitf(2, "%v", err)
	}
	if showVersion {
		fmt.Fprintf(stdout, "%s %s\n", BinaryName, version.Full())
		return nil
	}
	if flagSet.NArg() != 1 {
		return process.Exitf(2, "expected exactly one launch descriptor argument, got %d", flagSet.NArg())
	}
	if logLevel != "debug" && logLevel != "info" {
		return process.Exitf(2, "--log-level must be debug or info, got %q", logLevel)
	}

	descriptor, err := launcher.ParseDescriptor(flagSet.Arg(0))
	if err != nil {
		return err
	}

	// Ctrl-C reaches the whole foreground process group. The
	// supervisor decides what an interrupt means and tells the
	// collector over the handshake.
	signal.Ignore(syscall.SIGINT)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	environ := env.Snapshot()
	debug := logLevel == "debug" || env.IsDebug(environ)
	runDir := env.GetRunDir(environ)
	if runDir == "" {
		return fmt.Errorf("%s is not set", env.RunDir)
	}
	logFile, err := os.OpenFile(filepath.Join(runDir, rundir.DebugLogFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening debug log: %w", err)
	}
	defer logFile.Close()
	logger := termlog.NewLogger(logFile, debug).With("component", "collector")

	collector, err := New(Config{
		Descriptor:     descriptor,
		Environ:        environ,
		TerminalStdout: stdout,
		TerminalStderr: stderr,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	exitCode, err := collector.Run(ctx)
	if err != nil {
		logger.Error("collector failed", "error", err)
		return err
	}
	logger.Info("collector exiting", "run_exit_code", exitCode)
	return nil
}
