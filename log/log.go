// Package log is the structured logging layer of the aegis control plane.
// It is a thin veneer over log/slog: each subsystem asks the process logger
// for a child tagged with its module name, so the single JSON stream can be
// filtered by origin (policy, queue, breaker, ...).
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// levelEnvVar selects the process log level at startup.
const levelEnvVar = "AEGIS_LOG_LEVEL"

// Logger emits structured JSON records tagged with subsystem context.
type Logger struct {
	inner *slog.Logger
}

var processLogger atomic.Pointer[Logger]

func init() {
	processLogger.Store(New(LevelFromString(os.Getenv(levelEnvVar))))
}

// New returns a Logger writing JSON to stderr, dropping records below level.
func New(level slog.Level) *Logger {
	return NewWithHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewWithHandler wraps an arbitrary slog.Handler, letting tests capture
// output or callers redirect it.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// LevelFromString maps a level name onto slog.Level, case-insensitively.
// Unknown or empty names mean Info.
func LevelFromString(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the process logger.
func Default() *Logger { return processLogger.Load() }

// SetDefault swaps the process logger. Nil is ignored.
func SetDefault(l *Logger) {
	if l != nil {
		processLogger.Store(l)
	}
}

// Module tags a child logger with the subsystem that owns it.
func (l *Logger) Module(name string) *Logger { return l.With("module", name) }

// With returns a child logger carrying extra key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// The package-level functions log through the process logger.

// Debug logs at LevelDebug using the process logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs at LevelInfo using the process logger.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at LevelWarn using the process logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at LevelError using the process logger.
func Error(msg string, args ...any) { Default().Error(msg, args...) }
