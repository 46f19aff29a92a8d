// Package logging configures the log/slog logger used by every spotlx command.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Setup builds a logger from level and format, installs it as the slog
// default and returns it.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Output goes to w, or to stderr when w is nil, so stdout stays free for
// command output such as `spotlx date`.
func Setup(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun tags l with a fresh run_id and returns the id alongside the
// derived logger. Every line of one invocation then shares the same id.
func WithRun(l *slog.Logger) (*slog.Logger, string) {
	if l == nil {
		l = slog.Default()
	}
	id := uuid.NewString()
	return l.With("run_id", id), id
}
