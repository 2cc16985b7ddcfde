package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"vtsched/internal/clock"
)

type cellState int

const (
	cellPending cellState = iota
	cellOK
	cellFailed
	cellCancelled
)

// cell is a single-assignment result slot. The first completion or
// cancellation wins; later ones are ignored.
type cell struct {
	mu    sync.Mutex
	state cellState
	val   any
	err   error
	done  chan struct{}
}

func newCell() *cell { return &cell{done: make(chan struct{})} }

func (c *cell) complete(v any, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cellPending {
		return false
	}
	if err != nil {
		c.state = cellFailed
		c.err = err
	} else {
		c.state = cellOK
		c.val = v
	}
	close(c.done)
	return true
}

func (c *cell) cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cellPending {
		return false
	}
	c.state = cellCancelled
	c.err = ErrCancelled
	close(c.done)
	return true
}

func (c *cell) result() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.err
}

// Delayed is implemented by handles so they can be ordered by remaining delay.
type Delayed interface {
	Delay() time.Duration
	order() uint64
}

// Handle is the caller-facing view of a scheduled record.
type Handle[T any] struct {
	r     *record
	clock clock.Clock
}

// Cancel marks the record cancelled and reports whether it had not finished
// yet. A queued record is discarded at its next drain attempt; an execution
// already running is not interrupted.
func (h *Handle[T]) Cancel() bool {
	h.r.cancelled.Store(true)
	h.r.cell.cancel()
	return !h.r.done.Load()
}

func (h *Handle[T]) IsCancelled() bool { return h.r.cancelled.Load() }

// IsDone reports whether a one-shot record has executed (or a cron record has
// run out of instants). Periodic records never report done.
func (h *Handle[T]) IsDone() bool { return h.r.done.Load() }

// Runs reports how many times the record has executed.
func (h *Handle[T]) Runs() uint64 { return h.r.runs.Load() }

func (h *Handle[T]) Name() string { return h.r.name }

// Scheduled returns the record's current scheduled instant.
func (h *Handle[T]) Scheduled() time.Time { return h.r.scheduled() }

// Delay returns the scheduled instant minus the virtual now. The subtraction
// saturates at the time.Duration bounds.
func (h *Handle[T]) Delay() time.Duration {
	return h.r.scheduled().Sub(h.clock.Now())
}

// DelayIn returns Delay expressed as a whole number of unit, truncated toward
// zero. A non-positive unit means nanoseconds.
func (h *Handle[T]) DelayIn(unit time.Duration) int64 {
	if unit <= 0 {
		unit = time.Nanosecond
	}
	return int64(h.Delay() / unit)
}

func (h *Handle[T]) order() uint64 { return h.r.num }

// Compare orders handles by remaining delay, then by creation order.
func (h *Handle[T]) Compare(o Delayed) int {
	a, b := h.Delay(), o.Delay()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	x, y := h.order(), o.order()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Get blocks until the record completes or is cancelled, or ctx is done.
// A failed execution returns a *TaskFailure. For periodic records the first
// execution's outcome is kept.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-h.r.cell.done:
		return h.value()
	default:
	}
	select {
	case <-h.r.cell.done:
		return h.value()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// GetTimeout is Get bounded by a real-time timeout; it returns ErrTimeout when
// the record has not completed in time.
func (h *Handle[T]) GetTimeout(timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	v, err := h.Get(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && err == ctx.Err() {
		return v, ErrTimeout
	}
	return v, err
}

func (h *Handle[T]) value() (T, error) {
	var zero T
	v, err := h.r.cell.result()
	if err != nil {
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}
