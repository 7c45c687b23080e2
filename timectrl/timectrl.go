package timectrl

import (
	"sync"
	"time"
)

// Clock supplies the timestamps recorded on profiles, scans and session
// queries. Components accept a Clock so tests can pin time.
type Clock interface {
	Now() time.Time
}

// System returns the wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// OrSystem returns c, or the wall clock when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return System()
	}
	return c
}

// Since reports the time elapsed on c since t.
func Since(c Clock, t time.Time) time.Duration {
	return OrSystem(c).Now().Sub(t)
}

// ManualClock only moves when told to. Listeners run after every change,
// outside the lock, in registration order.
type ManualClock struct {
	mu        sync.RWMutex
	now       time.Time
	step      time.Duration
	listeners []func(time.Time)
}

// NewManualClock returns a clock reading start. A positive step makes every
// Now call advance the clock by step afterwards, which gives elapsed-time
// measurements a fixed non-zero value.
func NewManualClock(start time.Time, step time.Duration) *ManualClock {
	return &ManualClock{now: start, step: step}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	if c.step <= 0 {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.now
	}
	c.mu.Lock()
	now := c.now
	c.now = c.now.Add(c.step)
	c.mu.Unlock()
	return now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	listeners := append(([]func(time.Time))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(t)
	}
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	listeners := append(([]func(time.Time))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// AddListener registers fn to run on every Set or Advance.
func (c *ManualClock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}
