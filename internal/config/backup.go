package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxConfigBackups bounds how many timestamped copies of the user config
// are kept under the backup directory.
const maxConfigBackups = 3

// backupTimeLayout embeds nanoseconds so two saves within the same
// second still get distinct names, and lexical order stays
// chronological.
const backupTimeLayout = "20060102-150405.000000000"

// userBackupDir is where config backups live: a backups/ subdirectory
// next to the user config file, so `cbird config list` output and a
// plain ls agree on what exists.
func userBackupDir() string {
	return filepath.Join(GetUserConfigDir(), "backups")
}

// BackupUserConfig copies the current user config into the backup
// directory and returns the copy's path, or "" when no user config
// exists yet. Copies beyond maxConfigBackups are pruned, oldest first.
func BackupUserConfig() (string, error) {
	data, err := os.ReadFile(GetUserConfigPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read user config: %w", err)
	}

	dir := userBackupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	dst := filepath.Join(dir, "config-"+time.Now().Format(backupTimeLayout)+".yaml")
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	pruneBackups()
	return dst, nil
}

// ListUserConfigBackups returns every backup path, newest first. The
// timestamped names sort chronologically on their own, so no stat calls
// are needed.
func ListUserConfigBackups() ([]string, error) {
	dir := userBackupDir()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backup directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "config-") && strings.HasSuffix(name, ".yaml") {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// pruneBackups drops everything past the newest maxConfigBackups.
// Best-effort: a backup that cannot be removed is left for the next
// prune rather than failing the save that triggered it.
func pruneBackups() {
	backups, err := ListUserConfigBackups()
	if err != nil || len(backups) <= maxConfigBackups {
		return
	}
	for _, stale := range backups[maxConfigBackups:] {
		_ = os.Remove(stale)
	}
}

// RestoreUserConfig replaces the user config with the given backup. The
// config being replaced is backed up first, so a restore is itself
// undoable.
func RestoreUserConfig(backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if _, err := BackupUserConfig(); err != nil {
		return fmt.Errorf("backup current config before restore: %w", err)
	}

	if err := os.MkdirAll(GetUserConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(GetUserConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("write restored config: %w", err)
	}
	return nil
}
