// Package clock abstracts "now" so code under test can observe the same frozen
// instant the virtual scheduler uses.
//
// Production wiring injects Real; tests inject a *Virtual owned by the
// scheduler. There is no package-level clock: consumers receive one by
// reference.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source read by code under test.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// Real uses the standard time package.
type Real struct{}

func (Real) Now() time.Time                  { return time.Now() }
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

// Virtual is a test-controlled clock. It only moves forward, and only when
// Advance is called.
type Virtual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewVirtual returns a virtual clock frozen at start. A zero start means the
// real current instant, captured once.
func NewVirtual(start time.Time) *Virtual {
	if start.IsZero() {
		start = time.Now()
	}
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.now
}

func (v *Virtual) Since(t time.Time) time.Duration { return v.Now().Sub(t) }

// Advance moves the clock forward by d and returns the new instant.
// Negative durations are treated as zero.
func (v *Virtual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
	return v.now
}
