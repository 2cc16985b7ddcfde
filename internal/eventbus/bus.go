package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"vtsched/internal/clock"
)

// Event types published by the virtual scheduler.
const (
	TypeClockAdvanced     = "clock.advanced"
	TypeTaskExecuted      = "task.executed"
	TypeTaskFailed        = "task.failed"
	TypeTaskDiscarded     = "task.discarded"
	TypeExecutorShutdown  = "executor.shutdown"
	TypeExecutorTerminate = "executor.terminated"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. Events published without a Time
// are stamped from c, so a virtual clock yields virtual timestamps.
//
// It does not own any background goroutines.
func New(c clock.Clock) Bus {
	if c == nil {
		c = clock.Real{}
	}
	return &memBus{clock: c, subs: map[uint64]chan Event{}}
}

type memBus struct {
	clock clock.Clock
	mu    sync.RWMutex
	subs  map[uint64]chan Event
	seq   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; a concurrently closed channel is tolerated.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
