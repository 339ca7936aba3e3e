package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// MaxBackups is how many user config backups are kept.
const MaxBackups = 3

// backupLayout names backups so that lexical order is age order.
const backupLayout = "20060102T150405.000000000"

func backupDir() string {
	return filepath.Join(filepath.Dir(GetUserConfigPath()), "backups")
}

// BackupUserConfig copies the user config into the backups directory next
// to it and drops all but the newest MaxBackups copies. It returns the new
// backup path, or "" when there is no user config.
func BackupUserConfig() (string, error) {
	data, err := os.ReadFile(GetUserConfigPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read config for backup: %w", err)
	}

	dir := backupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	path := filepath.Join(dir, "config-"+time.Now().UTC().Format(backupLayout)+".yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if all, err := ListUserConfigBackups(); err == nil {
		for _, old := range all[min(len(all), MaxBackups):] {
			_ = os.Remove(old)
		}
	}
	return path, nil
}

// ListUserConfigBackups returns the backup files, newest first.
func ListUserConfigBackups() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(backupDir(), "config-*.yaml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	slices.Reverse(paths)
	return paths, nil
}
