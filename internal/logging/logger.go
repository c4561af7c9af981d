package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// Logs go to stderr so command output on stdout stays clean.
func NewLogger(env string, level string) *slog.Logger {
	return newLogger(os.Stderr, env, level)
}

func newLogger(w io.Writer, env string, level string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, withLevel(opts, level))
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, withLevel(opts, level))
	}

	return slog.New(handler)
}

func withLevel(opts *slog.HandlerOptions, level string) *slog.HandlerOptions {
	if level != "" {
		opts.Level = ParseLevel(level)
	}

	return opts
}

// ParseLevel maps a level name to a slog.Level. Unknown names are Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Discard returns a logger that drops everything. Used by tests and
// one-shot commands run with --quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
