package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config controls how Setup constructs the process logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the log file path. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the rotation threshold (default: 10).
	MaxSizeMB int
	// MaxFiles is the number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr additionally writes to stderr (default: true).
	WriteToStderr bool
}

// DefaultConfig returns the default logging configuration for a given
// config directory; FilePath is left empty if confDir is empty (stderr only).
func DefaultConfig(confDir string) Config {
	cfg := Config{
		Level:         "info",
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
	if confDir != "" {
		cfg.FilePath = LogPath(confDir)
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}
	return cfg
}

// Setup builds the process-wide slog.Logger and returns a cleanup func
// that must be called (typically deferred) before the process exits.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var output io.Writer = os.Stderr
	cleanup := func() {}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, err
		}
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		if cfg.WriteToStderr {
			output = io.MultiWriter(writer, os.Stderr)
		} else {
			output = writer
		}
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(handler), cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
