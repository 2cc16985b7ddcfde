package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	logx "vtsched/pkg/logx"
)

// fileStore keeps runs in JSON Lines files.
//
// Files:
//   - <prefix>.runs.jsonl       (one Run per line, append-only)
//   - <prefix>.executions.jsonl (one Execution per line, append-only)
//
// Prune rewrites both files through a temp file and rename.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu sync.Mutex

	runsPath  string
	execsPath string
	runsFile  afero.File
	execsFile afero.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		fs:        fs,
		runsPath:  prefix + ".runs.jsonl",
		execsPath: prefix + ".executions.jsonl",
	}
	if err := s.openAppendLocked(); err != nil {
		_ = s.closeLocked()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) openAppendLocked() error {
	var err error
	if s.runsFile, err = s.fs.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return err
	}
	s.execsFile, err = s.fs.OpenFile(s.execsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *fileStore) closeLocked() error {
	var err1, err2 error
	if s.runsFile != nil {
		err1 = s.runsFile.Close()
		s.runsFile = nil
	}
	if s.execsFile != nil {
		err2 = s.execsFile.Close()
		s.execsFile = nil
	}
	return errors.Join(err1, err2)
}

// SaveRun writes executions before the run line, so a run is only listed
// once its executions are on disk.
func (s *fileStore) SaveRun(ctx context.Context, run Run, execs []Execution) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrDisabled
	}

	enc := json.NewEncoder(s.execsFile)
	for _, e := range execs {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.RunID = run.ID
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return json.NewEncoder(s.runsFile).Encode(run)
}

func (s *fileStore) Runs(ctx context.Context, scenario string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readLines[Run](ctx, s.fs, s.runsPath)
	if err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if scenario != "" && all[i].Scenario != scenario {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fileStore) Executions(ctx context.Context, runID string) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := readLines[Run](ctx, s.fs, s.runsPath)
	if err != nil {
		return nil, err
	}
	found := false
	for _, r := range runs {
		if r.ID == runID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNotFound
	}

	all, err := readLines[Execution](ctx, s.fs, s.execsPath)
	if err != nil {
		return nil, err
	}
	out := make([]Execution, 0, 16)
	for _, e := range all {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fileStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := readLines[Run](ctx, s.fs, s.runsPath)
	if err != nil {
		return 0, err
	}
	execs, err := readLines[Execution](ctx, s.fs, s.execsPath)
	if err != nil {
		return 0, err
	}

	// Walk newest first, keeping up to keep runs per scenario.
	seen := map[string]int{}
	kept := map[string]bool{}
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if seen[r.Scenario] < keep {
			kept[r.ID] = true
		}
		seen[r.Scenario]++
	}
	removed := len(runs) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	keptRuns := make([]Run, 0, len(kept))
	for _, r := range runs {
		if kept[r.ID] {
			keptRuns = append(keptRuns, r)
		}
	}
	keptExecs := make([]Execution, 0, len(execs))
	for _, e := range execs {
		if kept[e.RunID] {
			keptExecs = append(keptExecs, e)
		}
	}

	if err := s.closeLocked(); err != nil {
		s.log.Debug("storage close before prune failed", logx.Err(err))
	}
	if err := rewriteLines(s.fs, s.execsPath, keptExecs); err != nil {
		return 0, errors.Join(err, s.openAppendLocked())
	}
	if err := rewriteLines(s.fs, s.runsPath, keptRuns); err != nil {
		return 0, errors.Join(err, s.openAppendLocked())
	}
	if err := s.openAppendLocked(); err != nil {
		return removed, err
	}
	s.log.Debug("storage pruned", logx.Int("removed", removed), logx.Int("kept", len(keptRuns)))
	return removed, nil
}

func readLines[T any](ctx context.Context, fs afero.Fs, path string) ([]T, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var v T
		// A torn trailing line from a crash is skipped.
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, sc.Err()
}

func rewriteLines[T any](fs afero.Fs, path string, items []T) error {
	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}
