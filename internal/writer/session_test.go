package writer

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSessionManagerCreatesSession(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "output")

	sm, err := NewSessionManager(discardLogger(), outputDir, "")
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}

	name := filepath.Base(sm.GetSessionDir())
	if err := ValidateSessionPath(outputDir, name); err != nil {
		t.Errorf("created session name %q does not validate: %v", name, err)
	}
	if info, err := os.Stat(sm.GetSessionDir()); err != nil || !info.IsDir() {
		t.Fatalf("session directory missing: %v", err)
	}

	if got := sm.GetCheckpointBase("model"); got != filepath.Join(sm.GetSessionDir(), "model") {
		t.Errorf("GetCheckpointBase() = %s", got)
	}
	if got := filepath.Base(sm.GetProgressPath()); got != "progress.json" {
		t.Errorf("GetProgressPath() = %s", got)
	}
	if got := filepath.Base(sm.GetConfigBackupPath("")); got != "config.toml.bak" {
		t.Errorf("GetConfigBackupPath() = %s", got)
	}
}

func TestNewSessionManagerResume(t *testing.T) {
	outputDir := t.TempDir()
	name := "session_2026-10-19T12-00-00"
	if err := os.Mkdir(filepath.Join(outputDir, name), 0755); err != nil {
		t.Fatal(err)
	}

	sm, err := NewSessionManager(discardLogger(), outputDir, name)
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	if sm.GetSessionDir() != filepath.Join(outputDir, name) {
		t.Errorf("resumed into %s", sm.GetSessionDir())
	}

	if _, err := NewSessionManager(discardLogger(), outputDir, "session_2026-10-19T13-00-00"); err == nil {
		t.Error("expected error for missing session directory")
	}
	if _, err := NewSessionManager(discardLogger(), outputDir, "../escape"); err == nil {
		t.Error("expected error for traversal")
	}
}

func TestBackupConfig(t *testing.T) {
	outputDir := t.TempDir()
	sm, err := NewSessionManager(discardLogger(), outputDir, "")
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(src, []byte("data: {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	path, err := sm.BackupConfig(src)
	if err != nil {
		t.Fatalf("BackupConfig() error = %v", err)
	}
	if filepath.Base(path) != "config.yaml.bak" {
		t.Errorf("backup written to %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "data: {}\n" {
		t.Errorf("backup content = %q, err %v", data, err)
	}

	if _, err := sm.BackupConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestSetupLoggerWritesBothDestinations(t *testing.T) {
	sm, err := NewSessionManager(discardLogger(), t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}

	var console bytes.Buffer
	logger, logFile, err := SetupLogger(sm, slog.LevelInfo, &console)
	if err != nil {
		t.Fatalf("SetupLogger() error = %v", err)
	}

	logger.With("component", "session").Info("Checkpoint written", "total_samples", 36)
	logger.Debug("hidden")
	if err := logFile.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(console.String(), "Checkpoint written") || strings.Contains(console.String(), "hidden") {
		t.Errorf("unexpected console output: %q", console.String())
	}

	data, err := os.ReadFile(sm.GetLogPath())
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("session log is not a single JSON line: %v (%q)", err, data)
	}
	if entry["component"] != "session" || entry["total_samples"] != float64(36) {
		t.Errorf("unexpected log entry: %v", entry)
	}
	if entry["session"] != filepath.Base(sm.GetSessionDir()) {
		t.Errorf("log entry session = %v, want %s", entry["session"], filepath.Base(sm.GetSessionDir()))
	}
}

func TestCreateRunDirSameSecond(t *testing.T) {
	outputDir := t.TempDir()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.Local)

	want := []string{
		"session_2026-10-19T12-00-00",
		"session_2026-10-19T12-00-00_2",
		"session_2026-10-19T12-00-00_3",
	}
	for _, name := range want {
		dir, err := createRunDir(outputDir, now)
		if err != nil {
			t.Fatalf("createRunDir() error = %v", err)
		}
		if filepath.Base(dir) != name {
			t.Errorf("createRunDir() = %s, want %s", filepath.Base(dir), name)
		}
		if err := ValidateSessionPath(outputDir, filepath.Base(dir)); err != nil {
			t.Errorf("run directory %s does not validate: %v", dir, err)
		}
	}
}
