// Package scenario runs declarative scenarios against a virtual executor.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vtsched/internal/config"
	"vtsched/internal/eventbus"
	"vtsched/internal/storage"
	"vtsched/internal/task/scheduler"
	logx "vtsched/pkg/logx"
)

// ErrTaskFailed is what failing scenario tasks return.
var ErrTaskFailed = errors.New("scenario task failed")

// Options wires optional collaborators into a Runner.
type Options struct {
	Log   logx.Logger
	Bus   eventbus.Bus  // receives executor events; may be nil
	Store storage.Store // persists reports; may be nil

	// OnExecutor, when set, is called with the executor before any task is
	// registered (e.g. to register a metrics collector).
	OnExecutor func(e *scheduler.Executor)
}

// Runner executes scenarios. It is safe for sequential reuse.
type Runner struct {
	opt Options
}

func New(opt Options) *Runner {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Runner{opt: opt}
}

// run is the state of one scenario execution.
type run struct {
	exec    *scheduler.Executor
	handles map[string]*scheduler.Handle[struct{}]
	kinds   map[string]string

	mu    sync.Mutex
	trace []Execution
}

// Run validates s, registers its tasks on a fresh executor, applies its steps
// in order and returns the report. Unmet expectations do not make Run fail;
// they are counted in the report. Invalid scenarios and registration errors
// do.
func (r *Runner) Run(ctx context.Context, s *config.Scenario) (*Report, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	start, err := config.ParseInstantField("start", s.Start)
	if err != nil {
		return nil, err
	}

	log := r.opt.Log.With(logx.String("scenario", s.Name))
	exec := scheduler.New(scheduler.Config{Start: start, HistorySize: s.HistorySize}, log, r.opt.Bus)
	if r.opt.OnExecutor != nil {
		r.opt.OnExecutor(exec)
	}

	st := &run{
		exec:    exec,
		handles: make(map[string]*scheduler.Handle[struct{}], len(s.Tasks)),
		kinds:   make(map[string]string, len(s.Tasks)),
	}
	for _, t := range s.Tasks {
		if err := st.register(t); err != nil {
			return nil, fmt.Errorf("task %s: %w", t.Name, err)
		}
	}

	rep := &Report{
		RunID:    uuid.NewString(),
		Scenario: s.Name,
		Start:    exec.Now(),
	}
	log.Info("scenario started", logx.String("run_id", rep.RunID), logx.Int("tasks", len(s.Tasks)), logx.Int("steps", len(s.Steps)))

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := st.apply(i, step, rep)
		rep.Steps = append(rep.Steps, res)
		if !res.OK {
			log.Warn("step not satisfied", logx.Int("step", i), logx.String("action", res.Action), logx.String("detail", res.Detail))
		} else {
			log.Debug("step applied", logx.Int("step", i), logx.String("action", res.Action), logx.Time("now", res.Now))
		}
	}

	snap := exec.Snapshot()
	rep.End = snap.Now
	rep.Pending = snap.Pending
	rep.Shutdown = snap.Shutdown
	st.mu.Lock()
	rep.Executions = st.trace
	st.mu.Unlock()
	for _, e := range rep.Executions {
		if e.Error != "" {
			rep.Failures++
		}
	}

	log.Info("scenario finished",
		logx.String("run_id", rep.RunID),
		logx.Int("executions", len(rep.Executions)),
		logx.Int("failures", rep.Failures),
		logx.Int("unmet", rep.Unmet),
		logx.Duration("virtual_elapsed", rep.End.Sub(rep.Start)),
	)

	if r.opt.Store != nil {
		if err := r.save(ctx, rep); err != nil {
			return rep, fmt.Errorf("save report: %w", err)
		}
	}
	return rep, nil
}

func (st *run) register(t config.TaskConfig) error {
	name := strings.TrimSpace(t.Name)
	delay, err := config.ParseDurationField("delay", t.Delay)
	if err != nil {
		return err
	}
	period, err := config.ParseDurationField("period", t.Period)
	if err != nil {
		return err
	}

	// The handle is read by the job only during Advance, after it is set.
	var h *scheduler.Handle[struct{}]
	job := st.job(name, t, func() *scheduler.Handle[struct{}] { return h })

	kind := strings.ToLower(strings.TrimSpace(t.Kind))
	switch {
	case kind == config.KindCron:
		h, err = st.exec.ScheduleCron(name, job, t.Schedule)
	case strings.TrimSpace(t.Schedule) != "":
		h, err = st.exec.ScheduleSpec(name, t.Schedule, job)
	case kind == config.KindFixedRate:
		h, err = st.exec.ScheduleAtFixedRate(name, job, delay, period)
	case kind == config.KindFixedDelay:
		h, err = st.exec.ScheduleWithFixedDelay(name, job, delay, period)
	default:
		h, err = st.exec.ScheduleFunc(name, delay, job)
	}
	if err != nil {
		return err
	}
	st.handles[name] = h
	st.kinds[name] = kindOf(kind, t.Schedule)
	return nil
}

func (st *run) job(name string, t config.TaskConfig, handle func() *scheduler.Handle[struct{}]) scheduler.Job {
	return func(ctx context.Context) error {
		h := handle()
		ex := Execution{
			Task:     name,
			Kind:     st.kinds[name],
			Run:      h.Runs(),
			Executed: st.exec.Now(),
			// Re-arm happens after the work returns, so this is the due instant.
			Scheduled: h.Scheduled(),
		}
		switch {
		case t.Panic:
			ex.Error = "panic"
			st.record(ex)
			panic(fmt.Sprintf("task %s panicked on run %d", name, ex.Run))
		case t.Fail:
			ex.Error = ErrTaskFailed.Error()
			st.record(ex)
			return ErrTaskFailed
		}
		st.record(ex)
		return nil
	}
}

func (st *run) record(ex Execution) {
	st.mu.Lock()
	st.trace = append(st.trace, ex)
	st.mu.Unlock()
}

func (st *run) apply(i int, step config.StepConfig, rep *Report) StepResult {
	res := StepResult{Index: i, OK: true}
	e := st.exec

	switch {
	case step.Advance != "":
		d, _ := config.ParseDurationField("advance", step.Advance)
		res.Action = "advance " + d.String()
		before := st.executions()
		e.Advance(d)
		res.Detail = fmt.Sprintf("%d executions", st.executions()-before)

	case step.Cancel != "":
		name := strings.TrimSpace(step.Cancel)
		res.Action = "cancel " + name
		notDone := st.handles[name].Cancel()
		res.Detail = fmt.Sprintf("cancelled before completion: %v", notDone)

	case step.Expect != nil:
		res.Action = "expect"
		if step.Expect.Task != "" {
			res.Action += " " + strings.TrimSpace(step.Expect.Task)
		}
		problems := st.check(step.Expect)
		rep.Expectations++
		if len(problems) > 0 {
			rep.Unmet++
			res.OK = false
			res.Detail = strings.Join(problems, "; ")
		} else {
			res.Detail = "met"
		}

	case step.Shutdown:
		res.Action = "shutdown"
		if err := e.Shutdown(); err != nil {
			res.OK = false
			res.Detail = err.Error()
		} else {
			res.Detail = fmt.Sprintf("%d pending", e.Snapshot().Pending)
		}

	case step.ShutdownNow:
		res.Action = "shutdown_now"
		stubs, err := e.ShutdownNow()
		if err != nil {
			res.OK = false
			res.Detail = err.Error()
			break
		}
		for _, s := range stubs {
			rep.Drained = append(rep.Drained, s.Name)
		}
		res.Detail = fmt.Sprintf("%d drained", len(stubs))
	}
	res.Now = e.Now()
	return res
}

func (st *run) check(x *config.Expectation) []string {
	var problems []string
	e := st.exec
	if x.Task != "" {
		h := st.handles[strings.TrimSpace(x.Task)]
		if x.Runs != nil && h.Runs() != *x.Runs {
			problems = append(problems, fmt.Sprintf("runs = %d, want %d", h.Runs(), *x.Runs))
		}
		if x.Done != nil && h.IsDone() != *x.Done {
			problems = append(problems, fmt.Sprintf("done = %v, want %v", h.IsDone(), *x.Done))
		}
		if x.Cancelled != nil && h.IsCancelled() != *x.Cancelled {
			problems = append(problems, fmt.Sprintf("cancelled = %v, want %v", h.IsCancelled(), *x.Cancelled))
		}
		if x.Delay != "" {
			want, _ := config.ParseDurationField("delay", x.Delay)
			if got := h.Delay(); got != want {
				problems = append(problems, fmt.Sprintf("delay = %v, want %v", got, want))
			}
		}
	}
	if x.Pending != nil {
		if got := e.Snapshot().Pending; got != *x.Pending {
			problems = append(problems, fmt.Sprintf("pending = %d, want %d", got, *x.Pending))
		}
	}
	if x.Terminated != nil && e.IsTerminated() != *x.Terminated {
		problems = append(problems, fmt.Sprintf("terminated = %v, want %v", e.IsTerminated(), *x.Terminated))
	}
	return problems
}

func (st *run) executions() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.trace)
}

func (r *Runner) save(ctx context.Context, rep *Report) error {
	run := storage.Run{
		ID:           rep.RunID,
		Scenario:     rep.Scenario,
		RecordedAt:   time.Now(),
		VirtualStart: rep.Start,
		VirtualEnd:   rep.End,
		Executions:   len(rep.Executions),
		Failures:     rep.Failures,
		Expectations: rep.Expectations,
		Unmet:        rep.Unmet,
		Pending:      rep.Pending,
		OK:           rep.OK(),
	}
	execs := make([]storage.Execution, 0, len(rep.Executions))
	for _, e := range rep.Executions {
		execs = append(execs, storage.Execution{
			RunID:     rep.RunID,
			Task:      e.Task,
			Kind:      e.Kind,
			Run:       e.Run,
			Scheduled: e.Scheduled,
			Executed:  e.Executed,
			Error:     e.Error,
		})
	}
	return r.opt.Store.SaveRun(ctx, run, execs)
}

func kindOf(kind, schedule string) string {
	if kind != "" {
		return kind
	}
	if strings.TrimSpace(schedule) == "" {
		return config.KindOnce
	}
	ps, err := scheduler.ParseSchedule(schedule)
	if err == nil && ps.Kind == scheduler.SpecInterval {
		return config.KindFixedRate
	}
	return config.KindCron
}
