package annindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSegments_OpensEachPathAndUnions(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")
	dir := t.TempDir()

	seg1 := NewFlat(0)
	require.NoError(t, seg1.AddWithIDs(context.Background(), [][]byte{descriptor(0)}, []int64{1}))
	path1 := filepath.Join(dir, "index.0")
	require.NoError(t, seg1.Write(path1))

	seg2 := NewFlat(0)
	require.NoError(t, seg2.AddWithIDs(context.Background(), [][]byte{descriptor(0)}, []int64{2}))
	path2 := filepath.Join(dir, "index.1")
	require.NoError(t, seg2.Write(path2))

	idx, err := OpenSegments(context.Background(), "", 0, []string{path1, path2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	assert.Equal(t, int64(2), idx.Ntotal())
	results, err := idx.Search(context.Background(), [][]byte{descriptor(0)}, SearchOptions{KNN: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0], 2)
}

func TestOpenSegments_MissingPathPropagatesError(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")
	_, err := OpenSegments(context.Background(), "", 0, []string{"/nonexistent/index.0"})
	assert.Error(t, err)
}
