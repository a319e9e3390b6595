package logging

import (
	"log/slog"
	"os"
	"strings"
)

// BuildLogger creates the structured logger for one command, writing to
// stderr at the given level. The component attribute keeps interleaved
// output apart when several commands share a terminal or log sink.
func BuildLogger(level string, component string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)})
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
