package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// record is a pending unit of work. While queued it is owned by the due-queue;
// once popped it is owned by the draining goroutine until re-armed or dropped.
type record struct {
	id   string
	num  uint64 // creation order, immutable; tie-break for handle ordering
	name string
	kind Kind

	// seq and index are guarded by the executor lock.
	seq   uint64
	index int

	mu      sync.Mutex
	created time.Time
	delay   time.Duration

	period time.Duration
	sched  cron.Schedule

	run  func(ctx context.Context) (any, error)
	cell *cell

	cancelled atomic.Bool
	done      atomic.Bool
	runs      atomic.Uint64
}

func (r *record) scheduled() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created.Add(r.delay)
}

// rearm moves the record to its next scheduled instant and reports whether it
// should go back into the queue.
func (r *record) rearm(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.kind {
	case KindFixedDelay:
		r.created = now
		r.delay = r.period
		return true
	case KindFixedRate:
		r.created = r.created.Add(r.period)
		return true
	case KindCron:
		prev := r.created.Add(r.delay)
		next := r.sched.Next(prev)
		if next.IsZero() {
			r.done.Store(true)
			return false
		}
		r.created = prev
		r.delay = next.Sub(prev)
		return true
	default:
		r.done.Store(true)
		return false
	}
}

func (r *record) stub() Stub {
	return Stub{
		ID:        r.id,
		Name:      r.name,
		Kind:      r.kind,
		Scheduled: r.scheduled(),
		Cancelled: r.cancelled.Load(),
		run:       r.run,
	}
}
