package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
name: poll-fallback
start: "2024-01-01T00:00:00Z"
history_size: 50
logging: {level: debug, console: true}
storage: {driver: file, path: ./runs.jsonl}
tasks:
  - {name: poll, kind: fixed_rate, delay: 0s, period: 100ms}
  - {name: sync, schedule: "00:50"}
  - {name: nightly, kind: cron, schedule: "0 3 * * *"}
  - {name: flaky, kind: once, delay: 10ms, fail: true}
steps:
  - {advance: 350ms}
  - {cancel: poll}
  - {expect: {task: poll, runs: 4, cancelled: true}}
  - {shutdown: true}
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	s, err := Decode("scenario.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if s.Name != "poll-fallback" || s.HistorySize != 50 || len(s.Tasks) != 4 || len(s.Steps) != 4 {
		t.Fatalf("unexpected scenario: %+v", s)
	}
	if s.Storage == nil || s.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", s.Storage)
	}
	exp := s.Steps[2].Expect
	if exp == nil || exp.Runs == nil || *exp.Runs != 4 || exp.Cancelled == nil || !*exp.Cancelled {
		t.Fatalf("expect = %+v", exp)
	}
	if lc := s.Logging.Logx(); lc.Level != "debug" || !lc.Console {
		t.Fatalf("logx config = %+v", lc)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		data string
	}{
		{name: "unknown yaml field", file: "a.yml", data: "name: x\ntasks: []\nbogus: 1\n"},
		{name: "unknown nested field", file: "a.yaml", data: "tasks:\n  - {name: a, every: 1s}\n"},
		{name: "trailing json", file: "a.json", data: `{"name":"x"} {"name":"y"}`},
		{name: "broken yaml", file: "a.yaml", data: "tasks: [\n"},
		{name: "sequence as key", file: "a.yaml", data: "? [a, b]\n: 1\n"},
		{name: "wrong type", file: "a.yaml", data: "history_size: lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestDecodeYAMLAnchors(t *testing.T) {
	t.Parallel()

	s, err := Decode("a.yaml", []byte(`
name: anchors
tasks:
  - {name: poll, kind: fixed_rate, period: &p 100ms}
  - {name: tick, kind: fixed_delay, delay: 1s, period: *p}
steps:
  - {advance: 1s}
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(s.Tasks) != 2 || s.Tasks[0].Period != "100ms" || s.Tasks[1].Period != "100ms" {
		t.Fatalf("tasks = %+v", s.Tasks)
	}
	empty, err := Decode("empty.yaml", nil)
	if err != nil || empty.Name != "empty" {
		t.Fatalf("empty document = %+v, %v", empty, err)
	}
}

func TestDecodeDefaultsNameFromFile(t *testing.T) {
	t.Parallel()

	s, err := Decode("/tmp/nightly-batch.json", []byte(`{"tasks":[]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Name != "nightly-batch" {
		t.Fatalf("Name = %q, want nightly-batch", s.Name)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	s := &Scenario{
		Start:   "yesterday",
		Storage: &StorageConfig{Driver: "redis"},
		Tasks: []TaskConfig{
			{Name: "a", Kind: "fixed_rate"},
			{Name: "a", Kind: "once", Period: "1s"},
			{Name: "", Kind: "hourly"},
			{Name: "c", Schedule: "@hourly", Delay: "1s"},
			{Name: "d", Fail: true, Panic: true},
		},
		Steps: []StepConfig{
			{Advance: "1s", Shutdown: true},
			{Cancel: "missing"},
			{Advance: "soon"},
			{Expect: &Expectation{Runs: new(uint64)}},
		},
	}
	err := s.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"start:",
		"storage.driver",
		"tasks[0].period: must be > 0",
		"tasks[1].name: duplicate",
		"tasks[1]: once tasks",
		"tasks[2].name: required",
		"tasks[2].kind: unknown",
		"tasks[3]: schedule and delay/period",
		"tasks[4]: fail and panic",
		"steps[0]: exactly one action",
		"steps[1].cancel: unknown task",
		"steps[2].advance",
		"steps[3].expect: task-level checks",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in:\n%v", want, err)
		}
	}
}

func TestParseDurationFields(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration should fail")
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Second); d != time.Second {
		t.Fatalf("default = %v", d)
	}
	ts, err := ParseInstantField("start", "2024-01-01T00:00:00Z")
	if err != nil || !ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("ParseInstantField = %v, %v", ts, err)
	}
	if ts, err := ParseInstantField("start", ""); err != nil || !ts.IsZero() {
		t.Fatalf("empty instant = %v, %v", ts, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldS := &Scenario{
		Tasks: []TaskConfig{{Name: "a", Delay: "1s"}, {Name: "b"}},
	}
	newS := &Scenario{
		HistorySize: 10,
		Tasks:       []TaskConfig{{Name: "a", Delay: "2s"}, {Name: "c"}},
		Steps:       []StepConfig{{Advance: "1s"}},
	}
	sections, attrs, tasks := SummarizeChange(oldS, newS)
	if got := strings.Join(sections, ","); got != "executor,tasks,steps" {
		t.Fatalf("sections = %s", got)
	}
	if got := strings.Join(tasks, ","); got != "a,b,c" {
		t.Fatalf("tasks = %s", got)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
	if s, _, _ := SummarizeChange(newS, newS); len(s) != 0 {
		t.Fatalf("identical scenarios reported %v", s)
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	write := func(history int) {
		t.Helper()
		body := strings.Replace(sampleYAML, "history_size: 50", "history_size: "+strconv.Itoa(history), 1)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(50)

	m := NewManager(path)
	m.debounce = 10 * time.Millisecond
	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != s {
		t.Fatal("Get should return the committed scenario")
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Rewrite until the watcher is up and delivers the change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		write(75)
		select {
		case got := <-ch:
			if got.HistorySize != 75 {
				t.Fatalf("published history_size = %d, want 75", got.HistorySize)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no scenario published after file change")
		}
	}
}
