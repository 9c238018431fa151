// Package observability provides structured logging and lightweight
// call statistics for the daemon.
//
// Logger wraps log/slog with a persistent component field; actors derive
// tenant-scoped loggers from it with With.
package observability

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog with a persistent component name.
type Logger struct {
	inner     *slog.Logger
	component string
}

// NewLogger creates a structured JSON logger for a component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &Logger{
		inner:     slog.New(handler),
		component: component,
	}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h), component: component}
}

// With returns a new Logger carrying an additional persistent field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		inner:     l.inner.With(slog.Any(key, value)),
		component: l.component,
	}
}

// Component returns the component name associated with this logger.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) attrs(args []any) []any {
	return append([]any{slog.String("component", l.component)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, l.attrs(args)...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, l.attrs(args)...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, l.attrs(args)...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, l.attrs(args)...)
}

// Invocation logs one actor method call with its outcome.
func (l *Logger) Invocation(tenant, method string, dur time.Duration, err error) {
	args := []any{
		slog.String("component", l.component),
		slog.String("tenant", tenant),
		slog.String("method", method),
		slog.Int64("duration_ms", dur.Milliseconds()),
	}
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
		l.inner.Warn("invoke", args...)
		return
	}
	l.inner.Debug("invoke", args...)
}

// ActorEvent logs an actor lifecycle event (spawn, shutdown).
func (l *Logger) ActorEvent(event, tenant string, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("event", event),
		slog.String("tenant", tenant),
	}, args...)
	l.inner.Info("actor", allArgs...)
}
