package watch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"vtsched/internal/task/scheduler"
	logx "vtsched/pkg/logx"
)

type fakeSource struct {
	key      string
	push     bool
	failPoll bool

	polls   atomic.Int32
	unsubs  atomic.Int32
	subs atomic.Int32
}

func (s *fakeSource) Key() string { return s.key }

func (s *fakeSource) Subscribe(context.Context) (func(), error) {
	if !s.push {
		return nil, ErrPushUnsupported
	}
	s.subs.Add(1)
	return func() { s.unsubs.Add(1) }, nil
}

func (s *fakeSource) Poll(context.Context) error {
	s.polls.Add(1)
	if s.failPoll {
		return errors.New("server went away")
	}
	return nil
}

func newManager(t *testing.T) (*Manager, *scheduler.Executor) {
	t.Helper()
	e := scheduler.New(scheduler.Config{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, logx.Nop(), nil)
	m, err := New(e, 100*time.Millisecond, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, e
}

func TestPollFallbackStartsImmediately(t *testing.T) {
	t.Parallel()

	m, e := newManager(t)
	src := &fakeSource{key: "INBOX"}
	if err := m.Watch(context.Background(), src); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if m.Mode("INBOX") != ModePoll {
		t.Fatalf("mode = %q, want poll", m.Mode("INBOX"))
	}

	e.Advance(0)
	if src.polls.Load() != 1 {
		t.Fatalf("polls at t=0: %d, want 1", src.polls.Load())
	}
	e.Advance(350 * time.Millisecond)
	if src.polls.Load() != 4 {
		t.Fatalf("polls after 350ms: %d, want 4", src.polls.Load())
	}

	if !m.Unwatch("INBOX") {
		t.Fatal("Unwatch should report a watched key")
	}
	e.Advance(time.Second)
	if src.polls.Load() != 4 {
		t.Fatalf("polling continued after Unwatch: %d", src.polls.Load())
	}
	if m.Unwatch("INBOX") {
		t.Fatal("second Unwatch should report false")
	}
}

func TestPushSourcesAreNotPolled(t *testing.T) {
	t.Parallel()

	m, e := newManager(t)
	src := &fakeSource{key: "Archive", push: true}
	if err := m.Watch(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	e.Advance(time.Second)
	if src.polls.Load() != 0 || m.Mode("Archive") != ModePush {
		t.Fatalf("polls=%d mode=%q", src.polls.Load(), m.Mode("Archive"))
	}
	m.Unwatch("Archive")
	if src.unsubs.Load() != 1 {
		t.Fatal("Unwatch should release the push subscription")
	}
}

func TestWatchIsIdempotent(t *testing.T) {
	t.Parallel()

	m, e := newManager(t)
	src := &fakeSource{key: "INBOX"}
	for i := 0; i < 3; i++ {
		if err := m.Watch(context.Background(), src); err != nil {
			t.Fatal(err)
		}
	}
	e.Advance(100 * time.Millisecond)
	if src.polls.Load() != 2 {
		t.Fatalf("polls = %d, want 2 (one schedule only)", src.polls.Load())
	}
	if keys := m.Keys(); len(keys) != 1 || keys[0] != "INBOX" {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestPollFailuresKeepSchedule(t *testing.T) {
	t.Parallel()

	m, e := newManager(t)
	src := &fakeSource{key: "Flaky", failPoll: true}
	if err := m.Watch(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	e.Advance(300 * time.Millisecond)
	if src.polls.Load() != 4 {
		t.Fatalf("polls = %d, want 4", src.polls.Load())
	}
	if snap := e.Snapshot(); snap.Failed != 4 {
		t.Fatalf("failed executions = %d, want 4", snap.Failed)
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	m, e := newManager(t)
	poll := &fakeSource{key: "a"}
	push := &fakeSource{key: "b", push: true}
	_ = m.Watch(context.Background(), poll)
	_ = m.Watch(context.Background(), push)

	m.Stop()
	if m.Running() {
		t.Fatal("Running = true after Stop")
	}
	if err := m.Watch(context.Background(), &fakeSource{key: "c"}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Watch after Stop = %v, want ErrNotRunning", err)
	}
	e.Advance(time.Second)
	if poll.polls.Load() != 0 || push.unsubs.Load() != 1 {
		t.Fatalf("polls=%d unsubs=%d after Stop", poll.polls.Load(), push.unsubs.Load())
	}
	if len(m.Keys()) != 0 {
		t.Fatal("no keys should remain after Stop")
	}
}

func TestWatchRejectedByShutDownScheduler(t *testing.T) {
	t.Parallel()

	m, e := newManager(t)
	_ = e.Shutdown()
	err := m.Watch(context.Background(), &fakeSource{key: "x"})
	if !errors.Is(err, scheduler.ErrRejected) {
		t.Fatalf("Watch = %v, want ErrRejected", err)
	}
	if m.Mode("x") != ModeNone {
		t.Fatal("rejected watch must not be recorded")
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	e := scheduler.New(scheduler.Config{}, logx.Nop(), nil)
	if _, err := New(e, 0, logx.Nop()); err == nil {
		t.Fatal("zero interval should fail")
	}
	if _, err := New(nil, time.Second, logx.Nop()); err == nil {
		t.Fatal("nil scheduler should fail")
	}
}
