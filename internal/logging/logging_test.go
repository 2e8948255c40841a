package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nightshadow92/cbird/internal/config"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	if dir == "" {
		t.Fatal("DefaultLogDir returned empty string")
	}
	if !strings.Contains(dir, ".cbird") || !strings.Contains(dir, "logs") {
		t.Errorf("DefaultLogDir should contain .cbird/logs, got: %s", dir)
	}
}

func TestDefaultLogPath(t *testing.T) {
	if got := filepath.Base(DefaultLogPath()); got != "cbird.log" {
		t.Errorf("DefaultLogPath should end with cbird.log, got: %s", got)
	}
}

func TestSetup_WritesJSONToConfiguredFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(config.LogConfig{
		Level:    "debug",
		FilePath: logPath,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Info("catalog opened", slog.Int("records", 3))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"catalog opened"`) {
		t.Errorf("log entry missing from file, got: %s", data)
	}
	if !strings.Contains(string(data), `"records":3`) {
		t.Errorf("structured attribute missing from file, got: %s", data)
	}
}

func TestSetup_LevelFiltersDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(config.LogConfig{Level: "warn", FilePath: logPath})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Debug("should be dropped")
	logger.Warn("should be kept")

	data, _ := os.ReadFile(logPath)
	if strings.Contains(string(data), "should be dropped") {
		t.Error("debug entry leaked through a warn-level logger")
	}
	if !strings.Contains(string(data), "should be kept") {
		t.Error("warn entry missing")
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := Level(tc.input); got != tc.want {
			t.Errorf("Level(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestFindLogFile_NotFound(t *testing.T) {
	if _, err := FindLogFile("/nonexistent/path/to/log.log"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(logPath, []byte("test"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := FindLogFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != logPath {
		t.Errorf("expected %s, got %s", logPath, found)
	}
}

func TestEnsureLogDir(t *testing.T) {
	if err := EnsureLogDir(); err != nil {
		t.Fatalf("EnsureLogDir failed: %v", err)
	}
	info, err := os.Stat(DefaultLogDir())
	if err != nil {
		t.Fatalf("log directory should exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("log path should be a directory")
	}
}

func TestRotatingFile_WriteIsImmediatelyVisible(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	w, err := openRotatingFile(logPath, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	entry := []byte(`{"level":"INFO","msg":"test"}` + "\n")
	n, err := w.Write(entry)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != len(entry) {
		t.Errorf("wrote %d bytes, want %d", n, len(entry))
	}

	// Synced on every write, so readable without closing the writer.
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(entry) {
		t.Errorf("file content %q, want %q", data, entry)
	}
}

func TestRotatingFile_RotatesAtSizeLimit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	w, err := openRotatingFile(logPath, 0, 3) // 0 MB: every write rotates
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	payload := []byte(strings.Repeat("x", 2048))
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Error("live log file should exist after rotation")
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Error("rotated file .1 should exist")
	}
}

func TestRotatingFile_PrunesBeyondMaxFiles(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "maxfiles.log")
	w, err := openRotatingFile(logPath, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	payload := []byte(strings.Repeat("y", 1024))
	for i := 0; i < 5; i++ {
		_, _ = w.Write(payload)
	}

	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotated file .3 should not exist with maxFiles=2")
	}
}

func TestRotatingFile_CloseIsIdempotent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "close.log")
	w, err := openRotatingFile(logPath, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("entry\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close should be a no-op, got: %v", err)
	}
}

func TestRotatingFile_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := openRotatingFile(logPath, 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				msg := fmt.Sprintf(`{"worker":%d,"iter":%d}`, id, j) + "\n"
				_, _ = w.Write([]byte(msg))
			}
		}(i)
	}
	wg.Wait()

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("log file should have content")
	}
}
