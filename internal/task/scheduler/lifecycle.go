package scheduler

import (
	"time"

	"vtsched/internal/eventbus"
	logx "vtsched/pkg/logx"
)

// Shutdown stops accepting new work. Pending records stay queued and keep
// running on Advance; recurring records are not re-armed afterwards.
// A second call returns ErrAlreadyShutdown.
func (e *Executor) Shutdown() error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return ErrAlreadyShutdown
	}
	e.shutdown = true
	pending := e.queue.Len()
	if pending == 0 {
		e.wakeLocked()
	}
	e.mu.Unlock()

	e.log.Info("executor shutdown", logx.Int("pending", pending))
	e.publish(eventbus.TypeExecutorShutdown, map[string]any{"pending": pending, "now": false})
	return nil
}

// ShutdownNow stops accepting new work, removes every pending record and
// returns them as stubs in scheduled order. Waiters in AwaitTermination are
// released and the context passed to work is cancelled.
func (e *Executor) ShutdownNow() ([]Stub, error) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil, ErrAlreadyShutdown
	}
	e.shutdown = true
	recs := e.queue.drain()
	e.wakeLocked()
	e.mu.Unlock()

	e.cancel()

	stubs := make([]Stub, 0, len(recs))
	for _, r := range recs {
		stubs = append(stubs, r.stub())
	}
	e.log.Info("executor shutdown now", logx.Int("pending", len(stubs)))
	e.publish(eventbus.TypeExecutorShutdown, map[string]any{"pending": len(stubs), "now": true})
	return stubs, nil
}

func (e *Executor) IsShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown
}

// IsTerminated reports whether the due-queue is currently empty. It does not
// look at the shutdown flag: a running executor with nothing queued reports
// true.
func (e *Executor) IsTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len() == 0
}

// AwaitTermination blocks the calling goroutine until the due-queue is empty
// or timeout (real time) elapses, and reports whether it ended empty.
func (e *Executor) AwaitTermination(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		e.mu.Lock()
		if e.queue.Len() == 0 {
			e.mu.Unlock()
			return true
		}
		wake := e.wake
		e.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return e.IsTerminated()
		}
	}
}

// signalIfTerminated wakes AwaitTermination waiters once a shut down
// executor's queue is empty.
func (e *Executor) signalIfTerminated() {
	e.mu.Lock()
	terminated := e.shutdown && e.queue.Len() == 0
	if terminated {
		e.wakeLocked()
	}
	e.mu.Unlock()
	if terminated {
		e.publish(eventbus.TypeExecutorTerminate, nil)
	}
}

func (e *Executor) wakeLocked() {
	close(e.wake)
	e.wake = make(chan struct{})
}
