// Package eventlog implements the structured event log sink: one JSON
// object per line under logs/app.log, written with log/slog, carrying the
// scheduler's named event vocabulary (llm_step, toolloop_done,
// tool_suggested, tool_approved, tool_denied, tool_exec, tool_result,
// write_budget_exceeded, toolloop_approve_prompt).
package eventlog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaiho/agentloop/internal/apperr"
)

// Logger adapts an *slog.Logger to the scheduler.EventSink contract
// (Event(name string, fields map[string]any)), and adds the structured
// Error helper the terminal and bot surfaces use to log a classified
// failure.
type Logger struct {
	slog *slog.Logger
}

// Open creates (or appends to) path and returns a Logger writing
// JSON-lines records there, plus the io.Closer the caller must close on
// shutdown.
func Open(path string) (*Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return &Logger{slog: slog.New(newHandler(f))}, f, nil
}

// New wraps an arbitrary io.Writer (tests, or a multi-writer that also
// tees to stderr) in a Logger.
func New(w io.Writer) *Logger {
	return &Logger{slog: slog.New(newHandler(w))}
}

// newHandler renames slog's "time" key to "ts" and lowercases the level
// value, so each record reads {ts, level, event, ...}.
func newHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToLower(lvl.String()))
				}
			}
			return a
		},
	})
}

// Event implements scheduler.EventSink: one info-level record per named
// scheduler event, with event-specific fields attached.
func (l *Logger) Event(name string, fields map[string]any) {
	if l == nil || l.slog == nil {
		return
	}
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "event", name)
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.slog.Info(name, args...)
}

// Error records a classified failure at error level, carrying the error
// kind and message alongside any event-specific fields.
func (l *Logger) Error(event string, err error, fields map[string]any) {
	if l == nil || l.slog == nil {
		return
	}
	args := make([]any, 0, 4+2*len(fields))
	args = append(args, "event", event, "errorClass", string(apperr.Classify(err)), "message", err.Error())
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.slog.Error(event, args...)
}

// Debug records a debug-level diagnostic, used sparingly for request/
// response shapes the info-level event stream omits.
func (l *Logger) Debug(event string, fields map[string]any) {
	if l == nil || l.slog == nil {
		return
	}
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "event", event)
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.slog.Debug(event, args...)
}
