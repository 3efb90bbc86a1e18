// Package clock provides the monotonic time domain shared by the transport
// and the sound output.
package clock

import (
	"sync"
	"time"
)

// Clock reports the elapsed time of a monotonic clock.
type Clock interface {
	Now() time.Duration
}

// Monotonic measures time from its creation using the runtime's monotonic clock.
type Monotonic struct {
	start time.Time
}

// NewMonotonic creates a clock starting at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (c *Monotonic) Now() time.Duration {
	return time.Since(c.start)
}

// Manual is a clock advanced explicitly. Used by tests and by headless
// rendering of snapshots.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManual creates a manual clock at t.
func NewManual(t time.Duration) *Manual {
	return &Manual{now: t}
}

func (c *Manual) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Manual) Set(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (c *Manual) Advance(d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}
