package scenario

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Execution is one task execution observed during a run.
type Execution struct {
	Task      string    `json:"task"`
	Kind      string    `json:"kind"`
	Run       uint64    `json:"run"`
	Scheduled time.Time `json:"scheduled"`
	Executed  time.Time `json:"executed"`
	Error     string    `json:"error,omitempty"`
}

// StepResult is the outcome of one driver step.
type StepResult struct {
	Index  int       `json:"index"`
	Action string    `json:"action"`
	Now    time.Time `json:"now"`
	OK     bool      `json:"ok"`
	Detail string    `json:"detail,omitempty"`
}

// Report is the result of running a scenario.
type Report struct {
	RunID    string    `json:"run_id"`
	Scenario string    `json:"scenario"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`

	Executions []Execution  `json:"executions"`
	Steps      []StepResult `json:"steps"`

	Failures     int  `json:"failures"`
	Expectations int  `json:"expectations"`
	Unmet        int  `json:"unmet"`
	Pending      int  `json:"pending"`
	Shutdown     bool `json:"shutdown"`

	// Drained lists the task names handed back by shutdown_now, in scheduled
	// order.
	Drained []string `json:"drained,omitempty"`
}

// OK reports whether every expectation was met and every step succeeded.
func (r *Report) OK() bool {
	if r.Unmet > 0 {
		return false
	}
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}

// Runs counts executions of task.
func (r *Report) Runs(task string) int {
	n := 0
	for _, e := range r.Executions {
		if e.Task == task {
			n++
		}
	}
	return n
}

// WriteText renders the report as aligned text. Instants are shown as offsets
// from the run's virtual start.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	off := func(t time.Time) string { return "+" + t.Sub(r.Start).String() }

	fmt.Fprintf(tw, "scenario %s (run %s)\n", r.Scenario, r.RunID)
	fmt.Fprintf(tw, "virtual %s .. %s\n\n", r.Start.Format(time.RFC3339Nano), off(r.End))

	fmt.Fprintln(tw, "AT\tTASK\tKIND\tRUN\tDUE\tRESULT")
	for _, e := range r.Executions {
		result := "ok"
		if e.Error != "" {
			result = "error: " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", off(e.Executed), e.Task, e.Kind, e.Run, off(e.Scheduled), result)
	}

	fmt.Fprintln(tw, "\nSTEP\tACTION\tAT\tSTATUS\tDETAIL")
	for _, s := range r.Steps {
		status := "ok"
		if !s.OK {
			status = "FAIL"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index, s.Action, off(s.Now), status, s.Detail)
	}

	fmt.Fprintf(tw, "\nexecutions=%d failures=%d expectations=%d unmet=%d pending=%d\n",
		len(r.Executions), r.Failures, r.Expectations, r.Unmet, r.Pending)
	if len(r.Drained) > 0 {
		fmt.Fprintf(tw, "drained: %v\n", r.Drained)
	}
	return tw.Flush()
}
