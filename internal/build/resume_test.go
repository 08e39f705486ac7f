package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolishinshi/imsearch-go/internal/config"
)

func TestListSegmentPaths_SortsAscendingBySegmentNumber(t *testing.T) {
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	require.NoError(t, layout.EnsureDir())
	require.NoError(t, writePlaceholderSegment(layout.SegmentPath(2)))
	require.NoError(t, writePlaceholderSegment(layout.SegmentPath(0)))
	require.NoError(t, writePlaceholderSegment(layout.SegmentPath(10)))

	paths, err := ListSegmentPaths(layout)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, layout.SegmentPath(0), paths[0])
	assert.Equal(t, layout.SegmentPath(2), paths[1])
	assert.Equal(t, layout.SegmentPath(10), paths[2])
}

func TestListSegmentPaths_MissingDirReturnsEmpty(t *testing.T) {
	layout := config.NewLayout("/nonexistent/config/dir")
	paths, err := ListSegmentPaths(layout)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestListSegmentPaths_IgnoresNonSegmentFiles(t *testing.T) {
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	require.NoError(t, layout.EnsureDir())
	require.NoError(t, writePlaceholderSegment(layout.SegmentPath(0)))
	require.NoError(t, writePlaceholderSegment(layout.Quantizer))
	require.NoError(t, writePlaceholderSegment(layout.MasterIndex))

	paths, err := ListSegmentPaths(layout)
	require.NoError(t, err)
	assert.Equal(t, []string{layout.SegmentPath(0)}, paths)
}
