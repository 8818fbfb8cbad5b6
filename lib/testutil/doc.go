// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers for tests that wait on a collector,
// a handshake, or a shutdown goroutine. Each wait is bounded, so a
// stuck peer fails the test with a named event instead of hanging the
// test binary until the global timeout.
package testutil
