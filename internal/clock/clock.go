// Package clock abstracts wall time and server-time offset tracking.
package clock

import (
	"sync"
	"time"
)

// Clock supplies wall time. Components take it as a collaborator so tests can
// pin time.
type Clock interface {
	Now() time.Time
}

// System reads the OS clock.
type System struct{}

// Now returns the current wall time.
func (System) Now() time.Time { return time.Now() }

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

// Now invokes the wrapped function.
func (f Func) Now() time.Time { return f() }

// Synchronized applies an exchange-reported offset on top of a local clock.
// The dispatcher updates the offset after a time-sync rejection so signed
// nonces line up with the exchange clock.
type Synchronized struct {
	mu     sync.RWMutex
	inner  Clock
	offset time.Duration
}

// NewSynchronized wraps inner with a zero offset.
func NewSynchronized(inner Clock) *Synchronized {
	if inner == nil {
		inner = System{}
	}
	return &Synchronized{inner: inner}
}

// Now returns local time adjusted by the last known server offset.
func (c *Synchronized) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner.Now().Add(c.offset)
}

// Update recomputes the offset from an authoritative server timestamp.
func (c *Synchronized) Update(serverTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = serverTime.Sub(c.inner.Now())
}

// Offset returns the last computed server offset.
func (c *Synchronized) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
