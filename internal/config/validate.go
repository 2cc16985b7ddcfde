package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks a scenario for structural errors and returns all of them
// joined. Schedule strings are only checked for presence here; their syntax is
// checked when tasks are registered.
func (s *Scenario) Validate() error {
	if s == nil {
		return errors.New("scenario is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := ParseInstantField("start", s.Start); err != nil {
		errs = append(errs, err)
	}
	if s.HistorySize < 0 {
		add("history_size: must be >= 0")
	}
	if st := s.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "file", "sqlite":
		default:
			add("storage.driver: unsupported driver %q (use file or sqlite)", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	names := make(map[string]struct{}, len(s.Tasks))
	for i, t := range s.Tasks {
		p := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			add("%s.name: required", p)
		} else if _, dup := names[name]; dup {
			add("%s.name: duplicate task %q", p, name)
		} else {
			names[name] = struct{}{}
		}
		errs = append(errs, t.validate(p)...)
	}

	for i, st := range s.Steps {
		p := fmt.Sprintf("steps[%d]", i)
		if n := st.actions(); n != 1 {
			add("%s: exactly one action required, got %d", p, n)
			continue
		}
		switch {
		case st.Advance != "":
			if _, err := ParseDurationField(p+".advance", st.Advance); err != nil {
				errs = append(errs, err)
			}
		case st.Cancel != "":
			if _, ok := names[strings.TrimSpace(st.Cancel)]; !ok {
				add("%s.cancel: unknown task %q", p, st.Cancel)
			}
		case st.Expect != nil:
			e := st.Expect
			if e.Task != "" {
				if _, ok := names[strings.TrimSpace(e.Task)]; !ok {
					add("%s.expect.task: unknown task %q", p, e.Task)
				}
			} else if e.Runs != nil || e.Done != nil || e.Cancelled != nil || e.Delay != "" {
				add("%s.expect: task-level checks need expect.task", p)
			}
			if e.Delay != "" {
				if _, err := ParseDurationField(p+".expect.delay", e.Delay); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (t TaskConfig) validate(p string) []error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := ParseDurationField(p+".delay", t.Delay); err != nil {
		errs = append(errs, err)
	}
	period, err := ParseDurationField(p+".period", t.Period)
	if err != nil {
		errs = append(errs, err)
	}
	if t.Fail && t.Panic {
		add("%s: fail and panic are mutually exclusive", p)
	}

	kind := strings.ToLower(strings.TrimSpace(t.Kind))
	sched := strings.TrimSpace(t.Schedule)
	switch kind {
	case "":
		if t.Period != "" && sched == "" {
			add("%s.period: set kind to fixed_rate or fixed_delay", p)
		}
	case KindOnce:
		if t.Period != "" || sched != "" {
			add("%s: once tasks take no period or schedule", p)
		}
	case KindFixedRate, KindFixedDelay:
		if sched != "" {
			add("%s: %s tasks use period, not schedule", p, kind)
		}
		if err == nil && period <= 0 {
			add("%s.period: must be > 0 for %s", p, kind)
		}
	case KindCron:
		if sched == "" {
			add("%s.schedule: required for cron", p)
		}
	default:
		add("%s.kind: unknown kind %q", p, t.Kind)
	}
	if sched != "" && (t.Delay != "" || t.Period != "") {
		add("%s: schedule and delay/period are mutually exclusive", p)
	}
	return errs
}

func (st StepConfig) actions() int {
	n := 0
	for _, set := range []bool{st.Advance != "", st.Cancel != "", st.Expect != nil, st.Shutdown, st.ShutdownNow} {
		if set {
			n++
		}
	}
	return n
}
