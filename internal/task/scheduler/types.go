package scheduler

import (
	"context"
	"time"

	"vtsched/internal/clock"
)

// Job is a unit of work without a result.
type Job func(ctx context.Context) error

// Callable is a unit of work producing a result.
type Callable[T any] func(ctx context.Context) (T, error)

// Kind is the recurrence kind of a scheduled record.
type Kind int

const (
	KindOnce Kind = iota
	KindFixedRate
	KindFixedDelay
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindFixedRate:
		return "fixed_rate"
	case KindFixedDelay:
		return "fixed_delay"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Interface is the scheduling surface consumed by code under test. Production
// code depends on it; tests hand it a virtual Executor.
type Interface interface {
	Now() time.Time
	ScheduleFunc(name string, delay time.Duration, job Job) (*Handle[struct{}], error)
	ScheduleAtFixedRate(name string, job Job, initialDelay, period time.Duration) (*Handle[struct{}], error)
	ScheduleWithFixedDelay(name string, job Job, initialDelay, delay time.Duration) (*Handle[struct{}], error)
	Execute(job Job) error
}

// Config controls the executor.
//
// Defaults (when fields are zero):
//   - Clock: a new virtual clock frozen at Start (or real now if Start is zero)
//   - HistorySize: 200
//   - FailureWarnEvery: 1s of virtual time, FailureWarnBurst: 5
type Config struct {
	Clock *clock.Virtual
	Start time.Time

	HistorySize int

	// Task failure warnings are throttled against the virtual clock.
	FailureWarnEvery time.Duration
	FailureWarnBurst int
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.NewVirtual(c.Start)
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.FailureWarnEvery <= 0 {
		c.FailureWarnEvery = time.Second
	}
	if c.FailureWarnBurst <= 0 {
		c.FailureWarnBurst = 5
	}
	return c
}

// HistoryItem describes one execution attempt observed by the drain loop.
type HistoryItem struct {
	ID        string
	Name      string
	Kind      Kind
	Run       uint64
	Scheduled time.Time
	Executed  time.Time
	Error     string
}

// TaskEvent is published on the event bus for task lifecycle events.
type TaskEvent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Run       uint64    `json:"run"`
	Scheduled time.Time `json:"scheduled"`
	Error     string    `json:"error,omitempty"`
}

// AdvanceEvent is published on the event bus for every Advance call.
type AdvanceEvent struct {
	By  time.Duration `json:"by"`
	Now time.Time     `json:"now"`
}

// Stub is a pending record handed back by ShutdownNow. Running it calls the
// record's work directly, outside the drain and recurrence machinery.
type Stub struct {
	ID        string
	Name      string
	Kind      Kind
	Scheduled time.Time
	Cancelled bool

	run func(ctx context.Context) (any, error)
}

// Run executes the stub's work. Stubs of cancelled records do nothing and
// return ErrCancelled.
func (s Stub) Run(ctx context.Context) error {
	if s.Cancelled {
		return ErrCancelled
	}
	if s.run == nil {
		return ErrNilWork
	}
	_, err := s.run(ctx)
	return err
}
