// Package clock provides the time source for local mutations.
//
// Last-write-wins sync compares UpdatedAt values at millisecond
// resolution, so every local mutation must receive a timestamp strictly
// greater than the previous one even when two writes land in the same
// millisecond.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Monotonic wraps a Clock and guarantees strictly increasing millisecond
// timestamps across calls.
type Monotonic struct {
	base Clock

	mu   sync.Mutex
	last int64
}

// New returns a Monotonic clock backed by the system time.
func New() *Monotonic {
	return NewMonotonic(System{})
}

// NewMonotonic returns a Monotonic clock backed by base.
func NewMonotonic(base Clock) *Monotonic {
	return &Monotonic{base: base}
}

// Now returns base time truncated to milliseconds, bumped by one
// millisecond past the previous value when needed.
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := m.base.Now().UnixMilli()
	if ms <= m.last {
		ms = m.last + 1
	}
	m.last = ms
	return time.UnixMilli(ms).UTC()
}

// System is the wall clock.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now() }

// Fixed is a manually advanced clock for tests.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed returns a Fixed clock set to t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

// Now implements Clock.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}
