package storage

import (
	"context"
	"fmt"
	"strings"

	logx "vtsched/pkg/logx"
)

// Store is the persistence API used by the scenario runner and the CLI.
type Store interface {
	// SaveRun stores a run and its executions atomically where the driver
	// supports it.
	SaveRun(ctx context.Context, run Run, execs []Execution) error
	// Runs lists runs newest first. An empty scenario matches all; limit <= 0
	// means no limit.
	Runs(ctx context.Context, scenario string, limit int) ([]Run, error)
	// Executions returns a run's executions in the order they happened.
	Executions(ctx context.Context, runID string) ([]Execution, error)
	// Prune keeps the newest keep runs per scenario and drops the rest.
	Prune(ctx context.Context, keep int) (removed int, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
