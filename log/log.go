// Package log is a structured logger built on the stdlib log/slog package,
// in the same shape as ethereum-go-ethereum's log package (see
// log/logger_test.go, log/root_test.go in the retrieved pack): a small
// Logger interface with leveled methods taking alternating key/value pairs,
// a process-wide default logger, and a terminal handler that colorizes
// output when stdout is a TTY.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger is the interface every component in this repository logs through.
// Components take a Logger rather than reaching for a package-level default
// so that the bootstrap orchestrator can attach session/connection context
// (see Logger.With) without a global mutable logger.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

const levelTrace = slog.LevelDebug - 4
const levelCrit = slog.LevelError + 4

type logger struct {
	inner *slog.Logger
}

// New builds a Logger around an *slog.Logger, matching the teacher's
// NewLogger(handler) constructor shape.
func New(inner *slog.Logger) Logger {
	return &logger{inner: inner}
}

func (l *logger) log(ctx context.Context, level slog.Level, msg string, kv []any) {
	l.inner.Log(ctx, level, msg, kv...)
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(context.Background(), levelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(context.Background(), slog.LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(context.Background(), slog.LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(context.Background(), slog.LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(context.Background(), slog.LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...any)  { l.log(context.Background(), levelCrit, msg, ctx) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

// NewTerminalHandler returns a handler tuned for human consumption: short
// timestamps, leveled color when w is a TTY, and aligned key=value pairs.
// Mirrors the teacher's log.NewTerminalHandler (see format_test.go,
// handler_test.go for the expected output shape).
func NewTerminalHandler(w io.Writer, useColor bool) slog.Handler {
	return &terminalHandler{w: w, useColor: useColor}
}

// NewDefault constructs the process default logger: colorized terminal
// output to stderr if it is a TTY (checked via go-isatty, matching the
// teacher's convention), plain text otherwise.
func NewDefault() Logger {
	useColor := false
	out := io.Writer(os.Stderr)
	if f, ok := out.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if useColor {
		out = colorable.NewColorableStderr()
	}
	return New(slog.New(NewTerminalHandler(out, useColor)))
}

type terminalHandler struct {
	w        io.Writer
	useColor bool
	attrs    []slog.Attr
}

func (h *terminalHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	level := levelString(r.Level)
	if h.useColor {
		level = colorForLevel(r.Level).Sprint(level)
	}
	line := fmt.Sprintf("%-5s [%s] %s", level, r.Time.Format("01-02|15:04:05.000"), r.Message)
	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})
	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &terminalHandler{w: h.w, useColor: h.useColor}
	next.attrs = append(next.attrs, h.attrs...)
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *terminalHandler) WithGroup(name string) slog.Handler { return h }

func levelString(l slog.Level) string {
	switch {
	case l <= levelTrace:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	case l < levelCrit:
		return "ERROR"
	default:
		return "CRIT"
	}
}

func colorForLevel(l slog.Level) *color.Color {
	switch {
	case l <= levelTrace:
		return color.New(color.FgHiBlack)
	case l < slog.LevelInfo:
		return color.New(color.FgCyan)
	case l < slog.LevelWarn:
		return color.New(color.FgGreen)
	case l < slog.LevelError:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// Noop is a Logger that discards everything, used by unit tests that do not
// care about log output.
func Noop() Logger { return New(slog.New(slog.NewTextHandler(io.Discard, nil))) }
