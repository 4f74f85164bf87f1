// Package clog provides the ERC's context-carried structured logger, grounded
// on the teacher's context-logger idiom (FromContext/ContextWithLogger) seen
// across packages/core, backed by github.com/charmbracelet/log.
package clog

import (
	"context"
	"io"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the minimal surface every ERC component depends on.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type charmLogger struct {
	l *charmlog.Logger
}

func (c charmLogger) Debug(msg string, kv ...any) { c.l.Debug(msg, kv...) }
func (c charmLogger) Info(msg string, kv ...any)  { c.l.Info(msg, kv...) }
func (c charmLogger) Warn(msg string, kv ...any)  { c.l.Warn(msg, kv...) }
func (c charmLogger) Error(msg string, kv ...any) { c.l.Error(msg, kv...) }

// New builds a Logger writing to w at the given charmbracelet/log level name
// ("debug", "info", "warn", "error"). An empty level defaults to "info".
func New(w io.Writer, level string) Logger {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		lvl = charmlog.InfoLevel
	}
	l := charmlog.NewWithOptions(w, charmlog.Options{Level: lvl, ReportTimestamp: true})
	return charmLogger{l: l}
}

// noop is the zero-value default logger; it never panics on a nil *Logger
// reference and discards everything, mirroring packages/core/progress.NoOp.
type noop struct{}

func (noop) Debug(string, ...any) {}
func (noop) Info(string, ...any)  {}
func (noop) Warn(string, ...any)  {}
func (noop) Error(string, ...any) {}

// NoOp is a Logger that discards everything.
var NoOp Logger = noop{}

type ctxKey struct{}

// ContextWithLogger returns a new context carrying l.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or NoOp if none is present.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return NoOp
	}
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return NoOp
}
