package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerParsesLevels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range cases {
		logger, err := NewLogger(input)
		if err != nil {
			t.Fatalf("NewLogger(%q) failed: %v", input, err)
		}
		if !logger.Core().Enabled(want) {
			t.Fatalf("NewLogger(%q) should enable %s", input, want)
		}
		if want > zapcore.DebugLevel && logger.Core().Enabled(want-1) {
			t.Fatalf("NewLogger(%q) should not enable %s", input, want-1)
		}
	}
}
