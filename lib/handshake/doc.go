// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake implements the rendezvous between the supervisor
// and the collector daemon.
//
// The supervisor opens a [Server] on a loopback port before spawning
// the daemon and passes the address in the launch descriptor. The
// protocol is two messages on one connection, CBOR-encoded with
// lib/codec:
//
//	daemon → supervisor   {type: "ready", pid, message}
//	supervisor → daemon   {type: "done", exit_code}
//
// AwaitReady blocks for the ready message with a deadline. SignalDone
// sends the final exit code and tears the channel down; it is one-shot.
// If the connection closes before done arrives, the daemon's
// [Client.WaitDone] returns [ErrPeerLost], which the daemon records as
// a killed run.
package handshake
