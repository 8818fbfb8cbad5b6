// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package exitcapture records how the user process is ending so the
// collector daemon can be told the final exit code.
//
// There is no way to intercept os.Exit or an unrecovered panic after
// the fact, so the observer is installed explicitly and offers the
// three paths a process can take to its end:
//
//   - Exit(code): the process-exit primitive. Records the code, runs
//     the registered exit hooks, then calls os.Exit.
//   - Guard(fn): the top-level error boundary around user code. A
//     returned error or a panic is recorded with code 1 and written
//     to stderr (which is still redirected to the daemon at that
//     point, so the trace lands in output.log).
//   - RecordInterrupt(sig): called by the signal watcher. Records 255
//     regardless of any code seen earlier.
//
// If none of these fire, ExitState stays at its zero value, which is
// the same success code an unremarkable return from main produces.
package exitcapture
