// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package streams moves the supervisor's stdout and stderr onto
// channels read by the collector daemon.
//
// A [ChannelFactory] allocates one [Channel] per captured stream. Two
// strategies exist and one is chosen per launch by [SelectFactory]:
//
//   - [PseudoTerminalFactory] opens a PTY pair (creack/pty) and puts it
//     in raw mode so the daemon sees the bytes the program wrote, with
//     no newline translation or echo, while the program still sees a
//     terminal on its stdout (line buffering, progress bars with \r).
//   - [PipeFactory] uses os.Pipe when PTYs are unavailable, for example
//     in containers without /dev/ptmx.
//
// Either way the channel has a daemon end (handed to the child and
// closed in the supervisor immediately after spawn) and a local end
// (the target the supervisor's descriptor is duplicated onto).
//
// A [Redirection] is the binding between one original descriptor and
// its local end. Activate duplicates the local end over the original
// descriptor number, so writes from Go code, cgo, and child processes
// alike reach the daemon. Restore puts the saved original back and
// closes the local end so the daemon observes end of stream.
package streams
