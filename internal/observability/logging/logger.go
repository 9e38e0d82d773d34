package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Install builds the process logger on stderr and makes it the slog default
// so stage code can log through the package-level functions.
func Install(service, level, format string) *slog.Logger {
	return install(os.Stderr, service, level, format)
}

func install(w io.Writer, service, level, format string) *slog.Logger {
	logger := New(w, service, level, format)
	slog.SetDefault(logger)
	return logger
}

// New writes JSON records unless format is "text".
func New(w io.Writer, service, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", service)
}

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
