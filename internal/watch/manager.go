// Package watch keeps resources under observation, preferring push
// notifications and falling back to fixed-rate polling on a scheduler.
//
// It only depends on scheduler.Interface, so tests drive it with a virtual
// executor and production code with any conforming implementation.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"vtsched/internal/task/scheduler"
	logx "vtsched/pkg/logx"
)

var (
	ErrNotRunning      = errors.New("watch manager not running")
	ErrPushUnsupported = errors.New("push notifications not supported")
)

// Source is a watchable resource.
type Source interface {
	Key() string
	// Subscribe starts push notifications. Any error makes the manager poll
	// instead.
	Subscribe(ctx context.Context) (unsubscribe func(), err error)
	// Poll asks the resource for updates.
	Poll(ctx context.Context) error
}

// Mode is how a source is being watched.
type Mode string

const (
	ModeNone Mode = ""
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

type entry struct {
	mode   Mode
	unsub  func()
	handle *scheduler.Handle[struct{}]
}

// Manager tracks watched sources by key.
type Manager struct {
	sched scheduler.Interface
	every time.Duration
	log   logx.Logger

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
}

// New returns a manager polling non-push sources every interval, starting
// immediately.
func New(sched scheduler.Interface, every time.Duration, log logx.Logger) (*Manager, error) {
	if sched == nil {
		return nil, errors.New("watch: scheduler is nil")
	}
	if every <= 0 {
		return nil, fmt.Errorf("watch: poll interval must be > 0, got %v", every)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{sched: sched, every: every, log: log, entries: map[string]*entry{}}, nil
}

// Watch starts observing src. Watching an already watched key is a no-op.
func (m *Manager) Watch(ctx context.Context, src Source) error {
	key := src.Key()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if _, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	unsub, err := src.Subscribe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Recheck: Stop or a concurrent Watch may have won while subscribing.
	if _, ok := m.entries[key]; ok || m.stopped {
		if err == nil && unsub != nil {
			unsub()
		}
		if m.stopped {
			return ErrNotRunning
		}
		return nil
	}

	if err == nil {
		m.entries[key] = &entry{mode: ModePush, unsub: unsub}
		m.log.Debug("watching via push", logx.String("key", key))
		return nil
	}

	m.log.Debug("push unavailable; polling", logx.String("key", key), logx.Duration("every", m.every), logx.Err(err))
	h, serr := m.sched.ScheduleAtFixedRate("poll:"+key, func(ctx context.Context) error {
		if perr := src.Poll(ctx); perr != nil {
			m.log.Debug("poll failed", logx.String("key", key), logx.Err(perr))
			return perr
		}
		return nil
	}, 0, m.every)
	if serr != nil {
		return fmt.Errorf("watch %s: %w", key, serr)
	}
	m.entries[key] = &entry{mode: ModePoll, handle: h}
	return nil
}

// Unwatch stops observing key and reports whether it was watched.
func (m *Manager) Unwatch(key string) bool {
	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.stop()
	return true
}

// Stop unwatches everything; later Watch calls fail with ErrNotRunning.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	entries := m.entries
	m.entries = map[string]*entry{}
	m.mu.Unlock()

	for _, e := range entries {
		e.stop()
	}
	m.log.Debug("watch manager stopped", logx.Int("released", len(entries)))
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stopped
}

// Mode reports how key is watched, or ModeNone.
func (m *Manager) Mode(key string) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e.mode
	}
	return ModeNone
}

// Keys returns the watched keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (e *entry) stop() {
	if e.handle != nil {
		e.handle.Cancel()
	}
	if e.unsub != nil {
		e.unsub()
	}
}
