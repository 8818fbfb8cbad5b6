// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for the supervisor's
// polling loops (kill confirmation, daemon exit wait, readiness
// deadline).
//
// Production code holds a Clock field set to Real(). Tests use
// Stepping(), which never blocks: Sleep advances the fake time by the
// requested duration and returns immediately, and After delivers at
// once. This turns "poll 20 times at 100ms" into a loop that runs
// instantly while still letting the test assert on elapsed fake time
// and the number of sleeps.
package clock
