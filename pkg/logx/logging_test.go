package logx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("ignored", String("k", "v"))
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("comp", "scheduler"))

	l.Debug("hidden")
	l.Info("task ok", String("task", "poll"), Int("run", 3), Duration("took", 5*time.Millisecond))
	l.Warn("task failed", Err(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level:\n%s", out)
	}
	for _, want := range []string{"task ok", "comp=scheduler", "task=poll", "run=3", "task failed", "err=boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if l.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled at info level")
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	svc, l := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	l.Debug("written to file", String("k", "v"))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), "written to file") {
		t.Fatalf("log file missing message: %s", b)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestClockFieldIsEvaluatedPerLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewWriter(&buf, "info").With(Clock("vnow", func() time.Time { return now }))

	l.Info("first")
	now = now.Add(90 * time.Minute)
	l.Info("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[0], "vnow=2024-01-01T00:00:00.000Z") || !strings.Contains(lines[1], "vnow=2024-01-01T01:30:00.000Z") {
		t.Fatalf("vnow not stamped per line:\n%s", buf.String())
	}
}

func TestServiceApplyKeepsFileAcrossLevelChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	cfg := Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}
	svc, l := New(cfg)
	t.Cleanup(func() { _ = svc.Close() })

	l.Debug("dropped at info")
	f := svc.file

	cfg.Level = "debug"
	svc.Apply(cfg)
	if svc.file != f {
		t.Fatal("level-only change must keep the open file")
	}
	if !l.Enabled(LevelDebug) {
		t.Fatal("existing logger must follow the new level")
	}
	l.Debug("kept at debug")

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "dropped at info") || !strings.Contains(out, "kept at debug") {
		t.Fatalf("unexpected log file:\n%s", out)
	}
	// JSON sink keeps structure.
	if !strings.Contains(out, `"message":"kept at debug"`) {
		t.Fatalf("file sink should be JSON:\n%s", out)
	}
}
