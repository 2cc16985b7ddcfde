package config

import (
	logx "vtsched/pkg/logx"
)

// Task kinds accepted in scenario files.
const (
	KindOnce       = "once"
	KindFixedRate  = "fixed_rate"
	KindFixedDelay = "fixed_delay"
	KindCron       = "cron"
)

// Scenario is a declarative description of tasks registered on a virtual
// executor and the driver steps applied to it.
type Scenario struct {
	Name string `json:"name"`

	// Start is the initial virtual instant (RFC 3339). Empty means real now.
	Start string `json:"start,omitempty"`

	// HistorySize bounds the executor's execution history (default 200).
	HistorySize int `json:"history_size,omitempty"`

	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Metrics *MetricsConfig `json:"metrics,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
	Steps []StepConfig `json:"steps"`
}

// TaskConfig declares one scheduled task.
//
// Either Kind (with Delay/Period) or Schedule is used:
//
//	{ "name": "poll", "kind": "fixed_rate", "delay": "0s", "period": "100ms" }
//	{ "name": "sync", "schedule": "00:50" }
//	{ "name": "nightly", "schedule": "0 3 * * *" }
//
// An omitted kind without a schedule means a one-shot task.
type TaskConfig struct {
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Delay    string `json:"delay,omitempty"`  // Go duration string
	Period   string `json:"period,omitempty"` // Go duration string
	Schedule string `json:"schedule,omitempty"`

	// Fail makes every execution return an error; Panic makes it panic.
	Fail  bool `json:"fail,omitempty"`
	Panic bool `json:"panic,omitempty"`
}

// StepConfig is one driver action. Exactly one action field must be set.
type StepConfig struct {
	Advance     string       `json:"advance,omitempty"` // Go duration string
	Cancel      string       `json:"cancel,omitempty"`  // task name
	Expect      *Expectation `json:"expect,omitempty"`
	Shutdown    bool         `json:"shutdown,omitempty"`
	ShutdownNow bool         `json:"shutdown_now,omitempty"`
}

// Expectation asserts executor or task state at a point in the scenario.
// Nil fields are not checked.
type Expectation struct {
	Task       string  `json:"task,omitempty"`
	Runs       *uint64 `json:"runs,omitempty"`
	Done       *bool   `json:"done,omitempty"`
	Cancelled  *bool   `json:"cancelled,omitempty"`
	Delay      string  `json:"delay,omitempty"` // remaining delay, Go duration string
	Pending    *int    `json:"pending,omitempty"`
	Terminated *bool   `json:"terminated,omitempty"`
}

// StorageConfig controls where run reports are persisted.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./runs.jsonl" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the HTTP endpoint served by `vtsched watch`
// (Prometheus metrics, snapshot JSON and optionally pprof).
//
// Binding to a non-loopback address requires Token or AllowInsecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Path          string `json:"path,omitempty"` // default: "/metrics"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx maps the scenario logging block onto the logger service config.
func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}
