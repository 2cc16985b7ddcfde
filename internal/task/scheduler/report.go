package scheduler

import (
	"time"

	logx "vtsched/pkg/logx"
)

// reportFailure logs a task failure. Warnings are throttled against the
// virtual clock, so a burst of failures inside one Advance produces a bounded
// and reproducible number of log lines.
func (e *Executor) reportFailure(r *record, run uint64, err error, now time.Time) {
	e.warnMu.Lock()
	allowed := e.warn.AllowN(now, 1)
	suppressed := e.warnSuppressed
	if allowed {
		e.warnSuppressed = 0
	} else {
		e.warnSuppressed++
	}
	e.warnMu.Unlock()

	if !allowed {
		e.log.Debug("task failed", logx.String("task", r.name), logx.Uint64("run", run), logx.Err(err))
		return
	}
	fields := []logx.Field{
		logx.String("task", r.name),
		logx.String("id", r.id),
		logx.String("kind", r.kind.String()),
		logx.Uint64("run", run),
		logx.Err(err),
	}
	if suppressed > 0 {
		fields = append(fields, logx.Uint64("suppressed", suppressed))
	}
	e.log.Warn("task failed", fields...)
}
