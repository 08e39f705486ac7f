package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(LogPath(dir))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestDefaultConfig_RespectsLogLevelEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg := DefaultConfig("")
	assert.Equal(t, "debug", cfg.Level)
	assert.Empty(t, cfg.FilePath)
}

func TestEnsureLogDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureLogDir(dir))
	info, err := os.Stat(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
