package writer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// teeHandler writes each record to the console and the session log
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps writing to the remaining sinks when one fails
func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}

// SetupLogger logs text to console and JSON lines to <session>/session.log.
// File entries carry the run directory name so logs of resumed runs can be
// told apart from copies. The caller closes the returned file.
func SetupLogger(sessionMgr *SessionManager, logLevel slog.Level, console io.Writer) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(sessionMgr.GetLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	session := filepath.Base(sessionMgr.GetSessionDir())
	return slog.New(teeHandler{
		slog.NewTextHandler(console, opts),
		slog.NewJSONHandler(logFile, opts).WithAttrs([]slog.Attr{slog.String("session", session)}),
	}), logFile, nil
}
