package logging_test

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/torosent/tickstat/internal/logging"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		enabled       zapcore.Level
		disabled      zapcore.Level
	}{
		{"info", "console", zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", "json", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"WARN", "", zapcore.WarnLevel, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		logger, err := logging.New(tt.level, tt.format)
		if err != nil {
			t.Fatalf("New(%q, %q) error = %v", tt.level, tt.format, err)
		}
		core := logger.Core()
		if !core.Enabled(tt.enabled) {
			t.Errorf("New(%q): expected %s enabled", tt.level, tt.enabled)
		}
		if core.Enabled(tt.disabled) {
			t.Errorf("New(%q): expected %s disabled", tt.level, tt.disabled)
		}
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	if _, err := logging.New("loud", "console"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := logging.New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
