package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Build.SegmentSize, cfg.Build.SegmentSize)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Build.SegmentSize = 12345
	cfg.Build.NList = 262144
	cfg.Search.NProbe = 32
	cfg.Server.Token = "secret"

	require.NoError(t, Save(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 12345, loaded.Build.SegmentSize)
	assert.Equal(t, 262144, loaded.Build.NList)
	assert.Equal(t, 32, loaded.Search.NProbe)
	assert.Equal(t, "secret", loaded.Server.Token)
}

func TestDefault_NListHasSaneBucketCount(t *testing.T) {
	assert.Equal(t, 65536, Default().Build.NList)
}

func TestDir_PrecedenceFlagThenEnvThenCwd(t *testing.T) {
	t.Setenv("IMSEARCH_CONF_DIR", "/env/dir")
	assert.Equal(t, "/flag/dir", Dir("/flag/dir"))
	assert.Equal(t, "/env/dir", Dir(""))

	t.Setenv("IMSEARCH_CONF_DIR", "")
	assert.Equal(t, ".", Dir(""))
}

func TestNewLayout_SegmentPath(t *testing.T) {
	l := NewLayout("/data")
	assert.Equal(t, filepath.Join("/data", "index.3"), l.SegmentPath(3))
	assert.Equal(t, filepath.Join("/data", "imsearch.db"), l.CatalogDB)
}

func TestBackup_PrunesOldBackups(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, Default()))

	var last string
	for i := 0; i < MaxBackups+2; i++ {
		p, err := Backup(dir)
		require.NoError(t, err)
		require.NotEmpty(t, p)
		last = p
	}

	backups, err := ListBackups(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
	assert.Contains(t, backups, last)
}
