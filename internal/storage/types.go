package storage

import (
	"errors"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("run not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines backend (runs + executions)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Fs backs the file driver. Nil means the OS filesystem.
	Fs afero.Fs
}

// Run summarizes one scenario run. Virtual instants come from the executor's
// clock; RecordedAt is wall-clock time.
type Run struct {
	ID           string    `json:"id"`
	Scenario     string    `json:"scenario"`
	RecordedAt   time.Time `json:"recorded_at"`
	VirtualStart time.Time `json:"virtual_start"`
	VirtualEnd   time.Time `json:"virtual_end"`
	Executions   int       `json:"executions"`
	Failures     int       `json:"failures"`
	Expectations int       `json:"expectations"`
	Unmet        int       `json:"unmet"`
	Pending      int       `json:"pending"`
	OK           bool      `json:"ok"`
}

// Execution is one task execution observed during a run.
type Execution struct {
	RunID     string    `json:"run_id"`
	Task      string    `json:"task"`
	Kind      string    `json:"kind"`
	Run       uint64    `json:"run"`
	Scheduled time.Time `json:"scheduled"`
	Executed  time.Time `json:"executed"`
	Error     string    `json:"error,omitempty"`
}
