package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "vtsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers; one connection also
	// keeps a ":memory:" database alive and shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveRun(ctx context.Context, run Run, execs []Execution) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(id, scenario, recorded_at, virtual_start, virtual_end, executions, failures, expectations, unmet, pending, ok, seq)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs))`,
		run.ID, run.Scenario, fmtTime(run.RecordedAt), fmtTime(run.VirtualStart), fmtTime(run.VirtualEnd),
		run.Executions, run.Failures, run.Expectations, run.Unmet, run.Pending, boolInt(run.OK),
	)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO executions(run_id, ord, task, kind, run, scheduled, executed, err) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range execs {
		if _, err = stmt.ExecContext(ctx, run.ID, i, e.Task, e.Kind, int64(e.Run), fmtTime(e.Scheduled), fmtTime(e.Executed), nullStr(e.Error)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Runs(ctx context.Context, scenario string, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT id, scenario, recorded_at, virtual_start, virtual_end, executions, failures, expectations, unmet, pending, ok
	      FROM runs WHERE (? = '' OR scenario = ?) ORDER BY seq DESC`
	args := []any{scenario, scenario}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			rec, vstart, vend string
			ok                int
		)
		if err := rows.Scan(&r.ID, &r.Scenario, &rec, &vstart, &vend, &r.Executions, &r.Failures, &r.Expectations, &r.Unmet, &r.Pending, &ok); err != nil {
			return nil, err
		}
		r.RecordedAt, r.VirtualStart, r.VirtualEnd = parseTime(rec), parseTime(vstart), parseTime(vend)
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Executions(ctx context.Context, runID string) ([]Execution, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?`, runID).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task, kind, run, scheduled, executed, err FROM executions WHERE run_id = ? ORDER BY ord`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Execution, 0, 16)
	for rows.Next() {
		var (
			e           Execution
			run         int64
			sched, exec string
			errStr      sql.NullString
		)
		if err := rows.Scan(&e.Task, &e.Kind, &run, &sched, &exec, &errStr); err != nil {
			return nil, err
		}
		e.RunID = runID
		e.Run = uint64(run)
		e.Scheduled, e.Executed = parseTime(sched), parseTime(exec)
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, keep int) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	const victims = `SELECT id FROM (
	    SELECT id, ROW_NUMBER() OVER (PARTITION BY scenario ORDER BY seq DESC) AS rn FROM runs
	  ) WHERE rn > ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE run_id IN (`+victims+`)`, keep); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+victims+`)`, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Debug("storage pruned", logx.Int64("removed", n))
	}
	return int(n), nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
