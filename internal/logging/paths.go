package logging

import (
	"os"
	"path/filepath"
)

// LogDir returns the logs directory under the given config directory.
func LogDir(confDir string) string {
	return filepath.Join(confDir, "logs")
}

// LogPath returns the default log file path under the given config directory.
func LogPath(confDir string) string {
	return filepath.Join(LogDir(confDir), "imsearch.log")
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir(confDir string) error {
	return os.MkdirAll(LogDir(confDir), 0o755)
}
