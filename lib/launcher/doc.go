// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher starts the collector daemon for a run and hands it
// the process's output streams.
//
// Launch allocates one channel per stream (a PTY pair when available,
// a pipe otherwise), spawns the daemon with the read ends as fd 3 and
// fd 4 and a JSON [Descriptor] as its only argument, and waits for the
// daemon's ready message on the handshake channel. Only after ready
// does it duplicate the write ends over stdout and stderr. A daemon
// that never reports ready is killed and the launch fails with
// [ErrLaunchFailed]; output written before that point stays on the
// original streams.
//
// The daemon's lifecycle after a successful launch belongs to the
// shutdown coordinator (lib/shutdown).
package launcher
