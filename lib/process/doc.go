// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers shared by the
// collector daemon and programs that embed the supervisor.
//
// These functions centralize the raw I/O that legitimately happens
// outside the structured logger: fatal error reporting before the
// logger exists, and mapping an error returned from run() to a process
// exit code.
package process
