package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownRejectsNewWork(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t)
	job, n := countingJob()
	if _, err := e.ScheduleFunc("pending", time.Second, job); err != nil {
		t.Fatal(err)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !e.IsShutdown() {
		t.Fatal("IsShutdown = false after Shutdown")
	}

	if _, err := e.ScheduleFunc("late", 0, job); !errors.Is(err, ErrRejected) {
		t.Fatalf("schedule after shutdown = %v, want ErrRejected", err)
	}
	if _, err := e.ScheduleAtFixedRate("late", job, 0, time.Second); !errors.Is(err, ErrRejected) {
		t.Fatalf("fixed rate after shutdown = %v, want ErrRejected", err)
	}
	if err := e.Execute(job); !errors.Is(err, ErrRejected) {
		t.Fatalf("Execute after shutdown = %v, want ErrRejected", err)
	}

	err := e.Shutdown()
	if !errors.Is(err, ErrAlreadyShutdown) || !errors.Is(err, ErrRejected) {
		t.Fatalf("second Shutdown = %v, want ErrAlreadyShutdown (a rejection)", err)
	}
	if _, err := e.ShutdownNow(); !errors.Is(err, ErrAlreadyShutdown) {
		t.Fatalf("ShutdownNow after Shutdown = %v, want ErrAlreadyShutdown", err)
	}

	// Queued work still runs after a graceful shutdown.
	e.Advance(time.Second)
	if n.Load() != 1 || !e.IsTerminated() {
		t.Fatalf("runs=%d terminated=%v, want 1/true", n.Load(), e.IsTerminated())
	}
	if snap := e.Snapshot(); snap.Rejected != 3 || !snap.Shutdown {
		t.Fatalf("snapshot rejected=%d shutdown=%v", snap.Rejected, snap.Shutdown)
	}
}

func TestShutdownStopsRecurringAfterNextRun(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t)
	job, n := countingJob()
	if _, err := e.ScheduleAtFixedRate("rate", job, 0, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	_ = e.Shutdown()
	if e.IsTerminated() {
		t.Fatal("record still queued, should not be terminated")
	}

	e.Advance(time.Second)
	if n.Load() != 1 {
		t.Fatalf("runs = %d, want 1 (no re-arm after shutdown)", n.Load())
	}
	if !e.IsTerminated() {
		t.Fatal("queue should be empty after the last run")
	}
}

func TestShutdownNowReturnsPendingInOrder(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t)
	job, n := countingJob()
	_, _ = e.ScheduleFunc("c", 30*time.Millisecond, job)
	_, _ = e.ScheduleAtFixedRate("a", job, 10*time.Millisecond, time.Second)
	hb, _ := e.ScheduleWithFixedDelay("b", job, 20*time.Millisecond, time.Second)
	hb.Cancel()

	var workCtx context.Context
	_ = e.Execute(func(ctx context.Context) error { workCtx = ctx; return nil })

	stubs, err := e.ShutdownNow()
	if err != nil {
		t.Fatalf("ShutdownNow: %v", err)
	}
	if len(stubs) != 3 {
		t.Fatalf("stubs = %d, want 3", len(stubs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if stubs[i].Name != want {
			t.Fatalf("stub[%d] = %s, want %s", i, stubs[i].Name, want)
		}
	}
	if stubs[0].Kind != KindFixedRate || !stubs[0].Scheduled.Equal(epoch.Add(10*time.Millisecond)) {
		t.Fatalf("stub[0] = %+v", stubs[0])
	}
	if !e.IsShutdown() || !e.IsTerminated() {
		t.Fatal("executor should be shut down with an empty queue")
	}
	if workCtx.Err() == nil {
		t.Fatal("work context should be cancelled by ShutdownNow")
	}

	if err := stubs[0].Run(context.Background()); err != nil {
		t.Fatalf("stub Run: %v", err)
	}
	if n.Load() != 1 {
		t.Fatalf("stub did not invoke the work item")
	}
	if !stubs[1].Cancelled {
		t.Fatal("cancelled record's stub should say so")
	}
	if err := stubs[1].Run(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("cancelled stub Run = %v, want ErrCancelled", err)
	}

	e.Advance(time.Hour)
	if n.Load() != 1 {
		t.Fatal("drained records must not run on Advance")
	}
}

func TestIsTerminatedIgnoresShutdownFlag(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t)
	if !e.IsTerminated() {
		t.Fatal("fresh executor has an empty queue and reports terminated")
	}
	job, _ := countingJob()
	_, _ = e.ScheduleFunc("x", time.Millisecond, job)
	if e.IsTerminated() {
		t.Fatal("queued record: IsTerminated should be false")
	}
	e.Advance(time.Millisecond)
	if !e.IsTerminated() || e.IsShutdown() {
		t.Fatal("drained running executor: terminated without shutdown")
	}
}

func TestAwaitTermination(t *testing.T) {
	t.Parallel()

	t.Run("empty queue returns at once", func(t *testing.T) {
		t.Parallel()
		e := newTestExecutor(t)
		if !e.AwaitTermination(0) {
			t.Fatal("AwaitTermination on empty queue = false")
		}
	})

	t.Run("times out while work is pending", func(t *testing.T) {
		t.Parallel()
		e := newTestExecutor(t)
		job, _ := countingJob()
		_, _ = e.ScheduleFunc("x", time.Minute, job)
		_ = e.Shutdown()
		start := time.Now()
		if e.AwaitTermination(20 * time.Millisecond) {
			t.Fatal("AwaitTermination = true with a queued record")
		}
		if time.Since(start) < 20*time.Millisecond {
			t.Fatal("returned before the real-time timeout")
		}
	})

	t.Run("released by advance on another goroutine", func(t *testing.T) {
		t.Parallel()
		e := newTestExecutor(t)
		job, _ := countingJob()
		_, _ = e.ScheduleFunc("x", 10*time.Millisecond, job)
		_ = e.Shutdown()

		done := make(chan bool, 1)
		go func() { done <- e.AwaitTermination(5 * time.Second) }()
		time.Sleep(5 * time.Millisecond)
		e.Advance(10 * time.Millisecond)
		if !<-done {
			t.Fatal("AwaitTermination = false after the queue drained")
		}
	})

	t.Run("released by shutdown now", func(t *testing.T) {
		t.Parallel()
		e := newTestExecutor(t)
		job, _ := countingJob()
		_, _ = e.ScheduleAtFixedRate("x", job, 0, time.Second)

		done := make(chan bool, 1)
		go func() { done <- e.AwaitTermination(5 * time.Second) }()
		time.Sleep(5 * time.Millisecond)
		if _, err := e.ShutdownNow(); err != nil {
			t.Fatal(err)
		}
		if !<-done {
			t.Fatal("AwaitTermination = false after ShutdownNow")
		}
	})
}
