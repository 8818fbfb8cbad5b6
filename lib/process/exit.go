// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes produced by the supervisor itself, as opposed to codes
// chosen by user code.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitInterrupted = 255
)

// ExitError is an error that carries the process exit code it should
// produce.
type ExitError struct {
	Code int
	Err  error
}

// Exitf returns an ExitError with the given code and formatted message.
func Exitf(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the code the process should exit with.
func (e *ExitError) ExitCode() int { return e.Code }

// CodeOf maps an error to a process exit code. nil is success. Any
// error in the chain with an ExitCode() method decides the code;
// everything else is a generic failure.
func CodeOf(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return ExitFailure
}

// Fatal writes "error: err" to stderr and exits with the code CodeOf
// assigns to err. Use it in main() for errors from run() where the
// structured logger may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(CodeOf(err))
}
