package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config selects sinks and the minimum level.
type Config struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console,omitempty"`
	JSON    bool       `json:"json,omitempty"` // console emits JSON lines instead of key=value text
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

const defaultFilePath = "./vtsched.log"

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

// Field adds one key to an event. Fields run in order, so a repeated key
// keeps the last value.
type Field func(e *zerolog.Event)

func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }

func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }

func Int64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }

func Uint64(k string, v uint64) Field { return func(e *zerolog.Event) { e.Uint64(k, v) } }

func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }

func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }

func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }

func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err adds the error under "err". A nil error adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Clock adds now() under k when the event is written. Attached with With, it
// stamps every line with a virtual instant alongside the wall-clock timestamp.
func Clock(k string, now func() time.Time) Field {
	return func(e *zerolog.Event) {
		if now != nil {
			e.Time(k, now())
		}
	}
}

// Logger is a value-type structured logger. The zero value discards
// everything. Loggers derived from a Service follow its Apply calls.
type Logger struct {
	svc   *Service
	fixed *zerolog.Logger

	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{fixed: &zl}
}

// NewConsole returns a standalone console logger on stderr.
func NewConsole(level string) Logger {
	return NewWriter(Stderr(), level)
}

// NewWriter returns a standalone logger writing console lines to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := build(newConsoleWriter(w), parseLevel(level, LevelInfo))
	return Logger{fixed: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.fixed == nil && len(l.fields) == 0 }

func (l Logger) root() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.fixed != nil:
		return *l.fixed
	}
	return zerolog.Nop()
}

// Enabled reports whether level would be written.
func (l Logger) Enabled(level Level) bool {
	return level >= l.root().GetLevel()
}

// With returns a logger that adds fields to every line.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.write(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

func (l Logger) write(level Level, msg string, fields []Field) {
	zl := l.root()
	ev := zl.WithLevel(level)
	if ev == nil {
		return
	}
	if c := caller(3); c != "" {
		ev.Str(zerolog.CallerFieldName, c)
	}
	for _, group := range [2][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(ev)
			}
		}
	}
	ev.Msg(msg)
}

// caller returns file:line of the frame skip levels up.
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Service owns the sinks of a process and swaps them on Apply. Loggers from
// Logger() or New keep working across swaps.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File
	path string

	root atomic.Pointer[zerolog.Logger]
}

// New builds a Service from cfg and returns it with its root Logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply reconfigures sinks and level. A change of level alone keeps the
// current sinks; an unchanged file path keeps the open file.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(cfg, false)
}

// Close releases the file sink. Later lines go to the remaining sinks.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.path = nil, ""
	cfg := s.cfg
	cfg.File.Enabled = false
	s.apply(cfg, true)
	return err
}

func (s *Service) apply(cfg Config, rebuild bool) {
	lvl := parseLevel(cfg.Level, LevelInfo)
	prev := s.cfg
	s.cfg = cfg
	if cur := s.root.Load(); cur != nil && !rebuild && sameSinks(prev, cfg) {
		zl := cur.Level(lvl)
		s.root.Store(&zl)
		return
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink(cfg))
	}
	if cfg.File.Enabled {
		if f := s.openFile(cfg.File.Path); f != nil {
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	} else {
		s.closeFile()
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleSink(cfg))
	}

	zl := build(zerolog.MultiLevelWriter(sinks...), lvl)
	s.root.Store(&zl)
}

// openFile returns the append handle for path, reusing the open one when the
// path is unchanged. Failures are reported on stderr and disable the sink.
func (s *Service) openFile(path string) *os.File {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultFilePath
	}
	if s.file != nil && s.path == path {
		return s.file
	}
	s.closeFile()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(Stderr(), "logx: open %q: %v\n", path, err)
		return nil
	}
	s.file, s.path = f, path
	return f
}

func (s *Service) closeFile() {
	if s.file != nil {
		_ = s.file.Close()
		s.file, s.path = nil, ""
	}
}

func consoleSink(cfg Config) io.Writer {
	if cfg.JSON {
		return Stderr()
	}
	return newConsoleWriter(Stderr())
}

func sameSinks(a, b Config) bool {
	return a.Console == b.Console && a.JSON == b.JSON && a.File == b.File
}

func build(w io.Writer, lvl Level) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		NoColor:      true,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// parseLevel accepts zerolog level names plus "warning". Unknown or empty
// input yields def.
func parseLevel(s string, def Level) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	switch s {
	case "trace", "debug", "info", "warn", "error":
		lvl, err := zerolog.ParseLevel(s)
		if err == nil {
			return lvl
		}
	}
	return def
}

// Stdout returns the process stdout sink.
func Stdout() io.Writer { return os.Stdout }

// Stderr returns the process stderr sink.
func Stderr() io.Writer { return os.Stderr }
