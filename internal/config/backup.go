package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// MaxBackups is the number of config.toml backups retained.
const MaxBackups = 3

// BackupSuffix is the extension appended to timestamped backups.
const BackupSuffix = ".bak"

// Backup writes a timestamped copy of <dir>/config.toml before a
// migration (e.g. `train` regenerating the quantizer changes defaults
// that downstream segments depend on). Returns "" if no config exists.
func Backup(dir string) (string, error) {
	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s%s.%s", path, BackupSuffix, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write config backup: %w", err)
	}

	_ = pruneBackups(path)
	return backupPath, nil
}

func pruneBackups(configPath string) error {
	matches, err := filepath.Glob(configPath + BackupSuffix + ".*")
	if err != nil {
		return err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	for i := MaxBackups; i < len(matches); i++ {
		_ = os.Remove(matches[i])
	}
	return nil
}

// ListBackups returns existing backup paths, newest first.
func ListBackups(dir string) ([]string, error) {
	path := filepath.Join(dir, "config.toml")
	matches, err := filepath.Glob(path + BackupSuffix + ".*")
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	return matches, nil
}
