package search

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhashCache_SaveThenLoadRoundTrips(t *testing.T) {
	cache, err := NewPhashCache(10)
	require.NoError(t, err)
	cache.Put(1, 0xdeadbeef)
	cache.Put(2, 0xfeedface)

	path := filepath.Join(t.TempDir(), "phash.cache")
	require.NoError(t, cache.Save(path))
	require.FileExists(t, path)

	reloaded, err := NewPhashCache(10)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(path))

	hash, ok := reloaded.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(0xdeadbeef), hash)

	hash, ok = reloaded.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint64(0xfeedface), hash)
}

func TestPhashCache_LoadMissingFileIsNotAnError(t *testing.T) {
	cache, err := NewPhashCache(10)
	require.NoError(t, err)
	require.NoError(t, cache.Load(filepath.Join(t.TempDir(), "absent.cache")))
	assert.Zero(t, cache.cache.Len())
}
