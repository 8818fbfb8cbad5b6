// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/runcapture/lib/env"
)

// Mode is how a run is captured.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeBackground  Mode = "background"
	ModeDryRun      Mode = "dry-run"
	ModeUnsupported Mode = "unsupported"
	ModeExternal    Mode = "external"
)

// WANDB_MODE values.
const (
	modeValueDryRun   = "dryrun"
	modeValueRun      = "run"
	modeValueExternal = "clirun"
)

// ErrInvalidMode is returned for a WANDB_MODE value no mode accepts.
var ErrInvalidMode = errors.New("invalid run mode")

// Captures reports whether the mode starts a collector daemon at Init.
func (m Mode) Captures() bool {
	return m == ModeBackground || m == ModeDryRun
}

// Cloud reports whether runs in this mode are staged for sync.
func (m Mode) Cloud() bool {
	return m == ModeBackground || m == ModeInteractive
}

// ModeResolver picks the mode for a process.
type ModeResolver struct {
	// Supported reports whether stream capture works on this
	// platform.
	Supported func() bool

	// Interactive forces the interactive mode.
	Interactive bool
}

// Resolve returns the mode for environ (nil reads the process
// environment). An unsupported platform wins over everything; an
// interactive host wins over WANDB_MODE.
func (r ModeResolver) Resolve(environ env.Environ) (Mode, error) {
	if r.Supported != nil && !r.Supported() {
		return ModeUnsupported, nil
	}
	if r.Interactive || env.IsInteractive(environ) {
		return ModeInteractive, nil
	}
	switch value := env.GetMode(environ); value {
	case "", modeValueDryRun:
		return ModeDryRun, nil
	case modeValueRun:
		return ModeBackground, nil
	case modeValueExternal:
		return ModeExternal, nil
	default:
		return "", fmt.Errorf("%w: %s=%q (use %q, %q, or leave it unset)",
			ErrInvalidMode, env.Mode, value, modeValueDryRun, modeValueRun)
	}
}
