// Package testutil holds shared test helpers.
package testutil

import (
	"sync"
	"time"
)

// Clock is a controllable wall clock for tests. Stores stamp annotated_when
// on every write; pinning the clock makes those values assertable.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current frozen instant. Pass the method value to
// store.WithClock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
