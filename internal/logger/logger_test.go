package logger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInit(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")

	if err := Init(Config{ConfigDir: configDir}); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	logDir := filepath.Join(configDir, "logs")
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		t.Errorf("Log directory was not created: %s", logDir)
	}
	if Logger == nil {
		t.Fatal("Logger is nil after initialization")
	}

	Debug("debug message")
	Info("info message", "user", "u1")
	Warn("warn message")
	Error("error message", "error", "boom")
}

func TestInitLevelOverride(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		wantErr bool
	}{
		{name: "info", level: "info"},
		{name: "error", level: "error"},
		{name: "unknown level", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(Config{ConfigDir: t.TempDir(), Level: tt.level})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHelpersWithoutInit(t *testing.T) {
	Logger = nil

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	if Component("sentinel") == nil {
		t.Error("Component() returned nil without Init")
	}
}

func TestComponentAfterInit(t *testing.T) {
	if err := Init(Config{ConfigDir: t.TempDir(), Debug: true}); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	l := Component("coach")
	if l == nil {
		t.Fatal("Component() returned nil")
	}
	l.Debug("offer sent", "kind", "micro_break")
}
