package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"vtsched/internal/clock"
	"vtsched/internal/eventbus"
	logx "vtsched/pkg/logx"
)

// Executor is a scheduled executor driven by a virtual clock.
type Executor struct {
	// mu guards the due-queue, the shutdown flag, seq and wake.
	mu       sync.Mutex
	queue    dueQueue
	shutdown bool
	seq      uint64
	wake     chan struct{}

	// drainMu serializes Advance calls.
	drainMu sync.Mutex

	cfg    Config
	clock  *clock.Virtual
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser

	ctx    context.Context
	cancel context.CancelFunc

	warnMu         sync.Mutex
	warn           *rate.Limiter
	warnSuppressed uint64

	hmu     sync.Mutex
	history *queue.Queue

	idSeq     atomic.Uint64
	submitted atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
	rejected  atomic.Uint64
}

var _ Interface = (*Executor)(nil)

// New returns a running executor. bus may be nil.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Executor {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:   cfg,
		clock: cfg.Clock,
		log:   log.With(logx.Clock("vnow", cfg.Clock.Now)),
		bus:   bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}),
		warn:    rate.NewLimiter(rate.Every(cfg.FailureWarnEvery), cfg.FailureWarnBurst),
		history: queue.New(),
	}
}

// Now returns the virtual now.
func (e *Executor) Now() time.Time { return e.clock.Now() }

// Clock returns the executor's clock for injection into code under test.
func (e *Executor) Clock() clock.Clock { return e.clock }

// Schedule submits a one-shot callable due after delay and returns a handle
// carrying its result.
func Schedule[T any](e *Executor, name string, delay time.Duration, fn Callable[T]) (*Handle[T], error) {
	if fn == nil {
		return nil, ErrNilWork
	}
	r := e.newRecord(name, KindOnce, delay, 0, func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		return v, err
	})
	if err := e.submit(r); err != nil {
		return nil, err
	}
	return &Handle[T]{r: r, clock: e.clock}, nil
}

// ScheduleFunc submits a one-shot job due after delay.
func (e *Executor) ScheduleFunc(name string, delay time.Duration, job Job) (*Handle[struct{}], error) {
	if job == nil {
		return nil, ErrNilWork
	}
	return e.schedule(e.newRecord(name, KindOnce, delay, 0, jobRunner(job)))
}

// ScheduleAtFixedRate submits a job first due after initialDelay and then every
// period measured from the previous scheduled instant.
func (e *Executor) ScheduleAtFixedRate(name string, job Job, initialDelay, period time.Duration) (*Handle[struct{}], error) {
	if job == nil {
		return nil, ErrNilWork
	}
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	return e.schedule(e.newRecord(name, KindFixedRate, initialDelay, period, jobRunner(job)))
}

// ScheduleWithFixedDelay submits a job first due after initialDelay and then
// delay after each execution.
func (e *Executor) ScheduleWithFixedDelay(name string, job Job, initialDelay, delay time.Duration) (*Handle[struct{}], error) {
	if job == nil {
		return nil, ErrNilWork
	}
	if delay <= 0 {
		return nil, ErrInvalidPeriod
	}
	return e.schedule(e.newRecord(name, KindFixedDelay, initialDelay, delay, jobRunner(job)))
}

// ScheduleCron submits a job recurring on a cron spec (5 or 6 fields, or a
// descriptor such as "@hourly" / "@every 5m"), evaluated in the virtual
// clock's location.
func (e *Executor) ScheduleCron(name string, job Job, spec string) (*Handle[struct{}], error) {
	if job == nil {
		return nil, ErrNilWork
	}
	sched, err := e.parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	now := e.clock.Now()
	next := sched.Next(now)
	if next.IsZero() {
		return nil, fmt.Errorf("cron spec %q never fires", spec)
	}
	r := e.newRecord(name, KindCron, next.Sub(now), 0, jobRunner(job))
	r.sched = sched
	return e.schedule(r)
}

// Execute runs job synchronously on the calling goroutine. It is never queued.
func (e *Executor) Execute(job Job) error {
	if job == nil {
		return ErrNilWork
	}
	if e.IsShutdown() {
		e.rejected.Add(1)
		return ErrRejected
	}
	return job(e.ctx)
}

// Tick advances the virtual clock by amount*unit. The product saturates at
// the time.Duration bounds.
func (e *Executor) Tick(amount int64, unit time.Duration) {
	e.Advance(mulDuration(amount, unit))
}

func mulDuration(amount int64, unit time.Duration) time.Duration {
	u := int64(unit)
	if amount == 0 || u == 0 {
		return 0
	}
	p := amount * u
	overflow := p/u != amount || (amount == -1 && u == math.MinInt64) || (u == -1 && amount == math.MinInt64)
	if !overflow {
		return time.Duration(p)
	}
	if (amount < 0) != (u < 0) {
		return math.MinInt64
	}
	return math.MaxInt64
}

// Advance moves the virtual clock forward by d and runs every record that is
// due at the new instant, on the calling goroutine, in ascending scheduled
// order. Task failures are captured in handles and never returned here.
func (e *Executor) Advance(d time.Duration) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	if d < 0 {
		e.log.Warn("negative advance treated as zero", logx.Duration("by", d))
		d = 0
	}
	now := e.clock.Advance(d)
	e.publish(eventbus.TypeClockAdvanced, AdvanceEvent{By: d, Now: now})

	for {
		r := e.popDue(now)
		if r == nil {
			return
		}
		e.runRecord(r, now)
		e.signalIfTerminated()
	}
}

func (e *Executor) popDue(now time.Time) *record {
	e.mu.Lock()
	defer e.mu.Unlock()
	head := e.queue.peek()
	if head == nil || head.scheduled().After(now) {
		return nil
	}
	return heap.Pop(&e.queue).(*record)
}

func (e *Executor) runRecord(r *record, now time.Time) {
	scheduledAt := r.scheduled()
	if r.cancelled.Load() {
		e.discarded.Add(1)
		e.log.Debug("cancelled task discarded", logx.String("task", r.name), logx.String("id", r.id))
		e.publish(eventbus.TypeTaskDiscarded, TaskEvent{ID: r.id, Name: r.name, Kind: r.kind.String(), Run: r.runs.Load(), Scheduled: scheduledAt})
		return
	}

	run := r.runs.Add(1)
	v, err := e.invoke(r)
	if r.kind == KindOnce {
		// Visible to anyone woken by the cell.
		r.done.Store(true)
	}
	r.cell.complete(v, err)
	e.executed.Add(1)

	item := HistoryItem{ID: r.id, Name: r.name, Kind: r.kind, Run: run, Scheduled: scheduledAt, Executed: now}
	ev := TaskEvent{ID: r.id, Name: r.name, Kind: r.kind.String(), Run: run, Scheduled: scheduledAt}
	if err != nil {
		e.failed.Add(1)
		item.Error = err.Error()
		ev.Error = err.Error()
		e.reportFailure(r, run, err, now)
		e.publish(eventbus.TypeTaskFailed, ev)
	} else {
		e.publish(eventbus.TypeTaskExecuted, ev)
	}
	e.appendHistory(item)

	if !r.rearm(now) {
		return
	}
	if err := e.insert(r); err != nil {
		e.log.Debug("recurring task not re-armed", logx.String("task", r.name), logx.String("id", r.id), logx.Err(err))
		return
	}
	e.log.Trace("task re-armed", logx.String("task", r.name), logx.Time("next", r.scheduled()))
}

// invoke runs the work item, converting errors and panics into *TaskFailure.
func (e *Executor) invoke(r *record) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v = nil
			err = &TaskFailure{Task: r.name, Panic: p, Stack: string(debug.Stack())}
		}
	}()
	v, err = r.run(e.ctx)
	if err != nil {
		return nil, &TaskFailure{Task: r.name, Err: err}
	}
	return v, nil
}

func (e *Executor) newRecord(name string, kind Kind, delay, period time.Duration, run func(ctx context.Context) (any, error)) *record {
	now := e.clock.Now()
	num := e.idSeq.Add(1)
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("%s-%d", kind, num)
	}
	return &record{
		// Short but unique within a run.
		id:      fmt.Sprintf("tsk-%x-%x", now.UnixNano(), num),
		num:     num,
		name:    name,
		kind:    kind,
		index:   -1,
		created: now,
		delay:   delay,
		period:  period,
		run:     run,
		cell:    newCell(),
	}
}

func (e *Executor) schedule(r *record) (*Handle[struct{}], error) {
	if err := e.submit(r); err != nil {
		return nil, err
	}
	return &Handle[struct{}]{r: r, clock: e.clock}, nil
}

func (e *Executor) submit(r *record) error {
	if err := e.insert(r); err != nil {
		return err
	}
	e.submitted.Add(1)
	e.log.Debug("task scheduled",
		logx.String("task", r.name),
		logx.String("id", r.id),
		logx.String("kind", r.kind.String()),
		logx.Time("at", r.scheduled()),
	)
	return nil
}

func (e *Executor) insert(r *record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		e.rejected.Add(1)
		return ErrRejected
	}
	e.seq++
	r.seq = e.seq
	heap.Push(&e.queue, r)
	return nil
}

func (e *Executor) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.clock.Now(), Data: data})
}

func jobRunner(job Job) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return struct{}{}, job(ctx)
	}
}
