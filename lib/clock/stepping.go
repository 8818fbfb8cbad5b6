// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// SteppingClock is a Clock whose time only moves when something waits
// on it. Safe for concurrent use.
type SteppingClock struct {
	mu      sync.Mutex
	current time.Time
	sleeps  int
	waited  time.Duration
}

// Stepping returns a SteppingClock starting at initial.
func Stepping(initial time.Time) *SteppingClock {
	return &SteppingClock{current: initial}
}

// Now returns the current fake time.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After advances the clock by d and returns a channel that already
// holds the new time.
func (c *SteppingClock) After(d time.Duration) <-chan time.Time {
	channel := make(chan time.Time, 1)
	channel <- c.advance(d, false)
	return channel
}

// Sleep advances the clock by d without blocking.
func (c *SteppingClock) Sleep(d time.Duration) {
	c.advance(d, true)
}

// Sleeps returns how many times Sleep was called.
func (c *SteppingClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// Waited returns the total fake time spent in Sleep and After.
func (c *SteppingClock) Waited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waited
}

func (c *SteppingClock) advance(d time.Duration, sleep bool) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.current = c.current.Add(d)
		c.waited += d
	}
	if sleep {
		c.sleeps++
	}
	return c.current
}
