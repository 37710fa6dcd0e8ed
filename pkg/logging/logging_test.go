package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInit_LevelSelection(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantDebug bool
	}{
		{"debug", "debug", true},
		{"warn", "warn", false},
		{"unknown falls back to info", "chatty", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Init(Config{Level: tt.level}); err != nil {
				t.Fatalf("init: %v", err)
			}
			if got := L().Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestInit_ConsoleFormat(t *testing.T) {
	if err := Init(Config{Level: "info", Format: "console"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if L() == nil {
		t.Fatal("logger should be set")
	}
}

func TestL_DefaultsWithoutInit(t *testing.T) {
	logger = nil
	if L() == nil {
		t.Fatal("L should lazily build a default logger")
	}
	// Syncing stderr may fail on some platforms; it must not panic.
	_ = Sync()
}
