package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeUserConfig(t *testing.T, content string) {
	t.Helper()
	if err := os.MkdirAll(GetUserConfigDir(), 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(GetUserConfigPath(), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write user config: %v", err)
	}
}

func TestBackupUserConfig_NoConfigIsNotAnError(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	backupPath, err := BackupUserConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backupPath != "" {
		t.Errorf("expected empty backup path when no config exists, got %s", backupPath)
	}
}

func TestBackupUserConfig_CopiesIntoBackupDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	content := "version: 1\nsearch:\n  dct_thresh: 12\n"
	writeUserConfig(t, content)

	backupPath, err := BackupUserConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(backupPath) != userBackupDir() {
		t.Errorf("backup should land in %s, got %s", userBackupDir(), backupPath)
	}
	if base := filepath.Base(backupPath); !strings.HasPrefix(base, "config-") || !strings.HasSuffix(base, ".yaml") {
		t.Errorf("backup name should be config-<timestamp>.yaml, got %s", base)
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("failed to read backup: %v", err)
	}
	if string(data) != content {
		t.Errorf("backup content mismatch:\ngot:  %s\nwant: %s", data, content)
	}
}

func TestListUserConfigBackups_EmptyWithoutBackupDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	backups, err := ListUserConfigBackups()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("expected no backups, got %d", len(backups))
	}
}

func TestListUserConfigBackups_NewestFirst(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeUserConfig(t, "version: 1\n")

	var created []string
	for i := 0; i < 3; i++ {
		p, err := BackupUserConfig()
		if err != nil {
			t.Fatalf("backup %d failed: %v", i, err)
		}
		created = append(created, p)
	}

	backups, err := ListUserConfigBackups()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backups) != 3 {
		t.Fatalf("expected 3 backups, got %d", len(backups))
	}
	if backups[0] != created[2] || backups[2] != created[0] {
		t.Errorf("backups not newest-first: %v", backups)
	}
}

func TestBackupUserConfig_PrunesBeyondLimit(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeUserConfig(t, "version: 1\n")

	for i := 0; i < maxConfigBackups+2; i++ {
		if _, err := BackupUserConfig(); err != nil {
			t.Fatalf("backup %d failed: %v", i, err)
		}
	}

	backups, err := ListUserConfigBackups()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backups) != maxConfigBackups {
		t.Errorf("expected pruning down to %d backups, got %d", maxConfigBackups, len(backups))
	}
}

func TestRestoreUserConfig_RoundTripsAndBacksUpCurrent(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeUserConfig(t, "search:\n  dct_thresh: 8\n")

	backupPath, err := BackupUserConfig()
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	writeUserConfig(t, "search:\n  dct_thresh: 99\n")

	if err := RestoreUserConfig(backupPath); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	data, err := os.ReadFile(GetUserConfigPath())
	if err != nil {
		t.Fatalf("failed to read restored config: %v", err)
	}
	if !strings.Contains(string(data), "dct_thresh: 8") {
		t.Errorf("restored config should contain dct_thresh: 8, got: %s", data)
	}

	// The overwritten config was itself backed up before the restore.
	backups, err := ListUserConfigBackups()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, b := range backups {
		d, _ := os.ReadFile(b)
		if strings.Contains(string(d), "dct_thresh: 99") {
			found = true
		}
	}
	if !found {
		t.Error("the config replaced by restore should have been backed up")
	}
}

func TestRestoreUserConfig_MissingBackupErrors(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := RestoreUserConfig("/nonexistent/backup.yaml"); err == nil {
		t.Error("expected error for missing backup file")
	}
}

func TestWriteYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg := NewConfig()
	cfg.Search.DctThresh = 14

	if err := cfg.WriteYAML(configPath); err != nil {
		t.Fatalf("failed to write YAML: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if !strings.Contains(string(data), "dct_thresh: 14") {
		t.Error("written file should contain dct_thresh: 14")
	}
}
