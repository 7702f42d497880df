package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Logger is the application logger interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithContext(ctx context.Context) Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string
	// Format is json (the platform log collector's format), text or console.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
	// AddSource adds the caller's file and line.
	AddSource bool
}

// DefaultConfig returns JSON at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

// level is shared by every logger so a config reload applies everywhere.
var level = new(slog.LevelVar)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("logger: unknown level %q", s)
	}
	return l, nil
}

// New creates a logger. Unknown levels fall back to info; unknown formats
// are an error.
func New(cfg Config) (Logger, error) {
	lvl, _ := ParseLevel(cfg.Level)
	level.Set(lvl)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource, ReplaceAttr: redact})
	case "text":
		h = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource, ReplaceAttr: redact})
	case "console":
		h = tint.NewHandler(out, &tint.Options{
			Level:       level,
			AddSource:   cfg.AddSource,
			TimeFormat:  time.TimeOnly,
			NoColor:     !isTerminal(out),
			ReplaceAttr: redact,
		})
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}

	return &slogLogger{logger: slog.New(contextHandler{h}), ctx: context.Background()}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetLevel changes the level of every logger. Unknown names are ignored.
func SetLevel(name string) {
	if l, err := ParseLevel(name); err == nil {
		level.Set(l)
	}
}

// GetLevel returns the current level name.
func GetLevel() string {
	for _, name := range []string{"debug", "info", "warn", "error"} {
		if levelNames[name] == level.Level() {
			return name
		}
	}
	return level.Level().String()
}

type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func (l *slogLogger) Debug(msg string, args ...any) { l.logger.DebugContext(l.ctx, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.InfoContext(l.ctx, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.WarnContext(l.ctx, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.ErrorContext(l.ctx, msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...), ctx: l.ctx}
}

// WithContext binds ctx so its invocation attributes are attached to every
// record.
func (l *slogLogger) WithContext(ctx context.Context) Logger {
	return &slogLogger{logger: l.logger, ctx: ctx}
}

// Slog returns the *slog.Logger behind l, or behind the default logger when
// l was not created by New. Libraries that take a *slog.Logger get the same
// handler chain, redaction included.
func Slog(l Logger) *slog.Logger {
	if sl, ok := l.(*slogLogger); ok {
		return sl.logger
	}
	return defaultLogger.Load().logger
}

var defaultLogger atomic.Pointer[slogLogger]

func init() {
	l, _ := New(DefaultConfig())
	defaultLogger.Store(l.(*slogLogger))
}

// SetDefault replaces the logger used by the package-level functions.
func SetDefault(l Logger) {
	if sl, ok := l.(*slogLogger); ok {
		defaultLogger.Store(sl)
	}
}

// Default returns the package-level logger.
func Default() Logger {
	return defaultLogger.Load()
}

func Debug(msg string, args ...any) { defaultLogger.Load().Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Load().Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Load().Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Load().Error(msg, args...) }
