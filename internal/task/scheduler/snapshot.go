package scheduler

import "time"

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Now        time.Time
	Shutdown   bool
	Terminated bool
	Pending    int
	NextDue    time.Time

	Submitted uint64
	Executed  uint64
	Failed    uint64
	Discarded uint64
	Rejected  uint64

	History []HistoryItem
}

func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	shutdown := e.shutdown
	pending := e.queue.Len()
	var next time.Time
	if head := e.queue.peek(); head != nil {
		next = head.scheduled()
	}
	e.mu.Unlock()

	e.hmu.Lock()
	h := make([]HistoryItem, 0, e.history.Length())
	for i := 0; i < e.history.Length(); i++ {
		h = append(h, e.history.Get(i).(HistoryItem))
	}
	e.hmu.Unlock()

	return Snapshot{
		Now:        e.clock.Now(),
		Shutdown:   shutdown,
		Terminated: pending == 0,
		Pending:    pending,
		NextDue:    next,
		Submitted:  e.submitted.Load(),
		Executed:   e.executed.Load(),
		Failed:     e.failed.Load(),
		Discarded:  e.discarded.Load(),
		Rejected:   e.rejected.Load(),
		History:    h,
	}
}

func (e *Executor) appendHistory(item HistoryItem) {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.history.Add(item)
	for e.history.Length() > e.cfg.HistorySize {
		e.history.Remove()
	}
}
