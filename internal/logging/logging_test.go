package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildLoggerLevelThreshold(t *testing.T) {
	ctx := context.Background()

	logger := BuildLogger("warn", "build")
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("info should be suppressed at warn level")
	}
	if !logger.Enabled(ctx, slog.LevelError) {
		t.Error("error should pass at warn level")
	}

	logger = BuildLogger("debug", "")
	if !logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should pass at debug level")
	}
}
