package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"landingzone/internal/config"
)

func TestNewLoggerLevels(t *testing.T) {
	l, err := newLogger(config.LogConfig{}, false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("production logger must not log debug")
	}

	l, err = newLogger(config.LogConfig{Level: "warn"}, false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("warn logger must not log info")
	}

	l, err = newLogger(config.LogConfig{Level: "warn"}, true)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("verbose must enable debug")
	}

	if _, err := newLogger(config.LogConfig{Level: "loud"}, false); err == nil {
		t.Fatalf("expected bad level error")
	}
}

func TestProvisionCommandRequiresExistingFile(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{
		"provision",
		"--config", filepath.Join(t.TempDir(), "missing.json"),
		"--project", "health",
		"--file", filepath.Join(t.TempDir(), "export.xml"),
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "open config") {
		t.Fatalf("explicit missing config must fail first, got %v", err)
	}

	rootCmd.SetArgs([]string{
		"provision",
		"--config", "",
		"--project", "health",
		"--file", filepath.Join(t.TempDir(), "export.xml"),
	})
	err = rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "open export") {
		t.Fatalf("expected open export error, got %v", err)
	}
}
