package config

import (
	"reflect"
	"sort"
	"strings"

	logx "vtsched/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections, (2)
// structured attrs for logging, and (3) the sorted names of tasks that were
// added, removed or modified.
func SummarizeChange(oldS, newS *Scenario) ([]string, []logx.Field, []string) {
	if oldS == nil {
		oldS = &Scenario{}
	}
	if newS == nil {
		newS = &Scenario{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if strings.TrimSpace(oldS.Start) != strings.TrimSpace(newS.Start) || oldS.HistorySize != newS.HistorySize {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.String("executor.start", strings.TrimSpace(newS.Start)),
			logx.Int("executor.history_size", newS.HistorySize),
		)
	}

	if oldS.Logging != newS.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newS.Logging.Level),
			logx.Bool("logging.console", newS.Logging.Console),
			logx.Bool("logging.file_enabled", newS.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldS.Storage, newS.Storage) {
		changed = append(changed, "storage")
		if newS.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newS.Storage.Driver))
		} else {
			attrs = append(attrs, logx.Bool("storage.enabled", false))
		}
	}

	if !reflect.DeepEqual(oldS.Metrics, newS.Metrics) {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newS.Metrics != nil && newS.Metrics.Enabled))
	}

	tasks := changedTasks(oldS.Tasks, newS.Tasks)
	if len(tasks) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.count", len(newS.Tasks)),
			logx.String("tasks.changed", strings.Join(tasks, ",")),
		)
	}

	if !reflect.DeepEqual(oldS.Steps, newS.Steps) {
		changed = append(changed, "steps")
		attrs = append(attrs, logx.Int("steps.count", len(newS.Steps)))
	}

	return changed, attrs, tasks
}

func changedTasks(oldT, newT []TaskConfig) []string {
	index := func(ts []TaskConfig) map[string]TaskConfig {
		m := make(map[string]TaskConfig, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.Name)] = t
		}
		return m
	}
	o, n := index(oldT), index(newT)

	var out []string
	for name, nt := range n {
		if ot, ok := o[name]; !ok || ot != nt {
			out = append(out, name)
		}
	}
	for name := range o {
		if _, ok := n[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
