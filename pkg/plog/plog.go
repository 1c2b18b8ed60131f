// Package plog is the process-wide structured logger. It wraps log/slog with a
// handler that splits output by severity: notices and info go to stdout so they
// can be piped into a run log, warnings and errors go to stderr.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Levels understood by shotsync. Notice sits between info and debug and is used
// for per-item events (COPY, SKIP) that are too chatty for the default level.
const (
	LevelDebug  = slog.LevelDebug
	LevelNotice = slog.Level(-2)
	LevelInfo   = slog.LevelInfo
	LevelWarn   = slog.LevelWarn
	LevelError  = slog.LevelError
)

// LevelDispatchHandler routes records below WARN to one handler and the rest
// to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var (
	defaultLogger atomic.Pointer[slog.Logger]
	level         = new(slog.LevelVar)
	quietMode     atomic.Bool
)

func init() {
	level.Set(LevelInfo)
	setDispatch(os.Stdout, os.Stderr)
}

func setDispatch(stdout, stderr io.Writer) {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevelName}
	defaultLogger.Store(slog.New(&LevelDispatchHandler{
		stdoutHandler: slog.NewTextHandler(stdout, opts),
		stderrHandler: slog.NewTextHandler(stderr, opts),
	}))
}

// replaceLevelName prints our custom notice level as NOTICE instead of DEBUG+2.
func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelNotice {
		a.Value = slog.StringValue("NOTICE")
	}
	return a
}

// SetOutput sends every level to w. Used by tests to capture output.
func SetOutput(w io.Writer) {
	quietMode.Store(false)
	setDispatch(w, w)
}

// SetLevel changes the minimum level that is written.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// LevelFromString maps a config/flag value to a level. Unknown values fall back to info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetQuiet suppresses info and notice output. Warnings and errors are still written.
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

func IsQuiet() bool {
	return quietMode.Load()
}

func Debug(msg string, args ...any) {
	defaultLogger.Load().Debug(msg, args...)
}

func Notice(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Log(context.Background(), LevelNotice, msg, args...)
}

func Info(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Load().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Load().Error(msg, args...)
}
