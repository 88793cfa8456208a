package app

import (
	"io"
	"log/slog"
)

// newLogger builds the application's isolated slog.Logger. The global
// default logger is left untouched so embedding callers and tests keep
// their own.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(levelStr)}

	var handler slog.Handler
	switch formatStr {
	case "text":
		handler = slog.NewTextHandler(outW, opts)
	default:
		// The CLI validates the flag, so anything else only arrives from
		// programmatic construction; JSON is the configured default.
		handler = slog.NewJSONHandler(outW, opts)
	}
	return slog.New(handler)
}

// parseLevel maps the CLI level names onto slog levels, defaulting to info.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
