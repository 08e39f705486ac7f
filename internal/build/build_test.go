package build

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/config"
)

func descriptor(seed byte) []byte {
	d := make([]byte, annindex.VectorDim)
	for i := range d {
		d[i] = seed + byte(i)
	}
	return d
}

func TestBuilder_Run_BuildsAndMarksIndexed(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")

	dir := t.TempDir()
	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	_, err = store.AddImage(ctx, "h1", "/a.jpg", [][]byte{descriptor(0), descriptor(1)})
	require.NoError(t, err)
	_, err = store.AddImage(ctx, "h2", "/b.jpg", [][]byte{descriptor(2)})
	require.NoError(t, err)

	layout := config.NewLayout(dir)
	b := New(store, layout, nil)

	result, err := b.Run(ctx, Options{SegmentSize: 10, NList: 4, Mode: MergeInMemory})
	require.NoError(t, err)
	assert.Len(t, result.SegmentsBuilt, 1)
	assert.Equal(t, int64(3), result.VectorsAdded)
	assert.NoFileExists(t, layout.SegmentPath(result.SegmentsBuilt[0]), "segment should be unlinked after a successful merge")
	assert.FileExists(t, layout.MasterIndex)

	pending, err := store.UnindexedDescriptors(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBuilder_Run_ResumesFromHighestSegment(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")

	dir := t.TempDir()
	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	layout := config.NewLayout(dir)

	require.NoError(t, layout.EnsureDir())
	require.NoError(t, writePlaceholderSegment(layout.SegmentPath(0)))
	require.NoError(t, writePlaceholderSegment(layout.SegmentPath(1)))

	_, err = store.AddImage(ctx, "h1", "/a.jpg", [][]byte{descriptor(0)})
	require.NoError(t, err)

	b := New(store, layout, nil)
	result, err := b.Run(ctx, Options{SegmentSize: 10, NList: 4, Mode: MergeNone})
	require.NoError(t, err)
	require.Len(t, result.SegmentsBuilt, 1)
	assert.Equal(t, 2, result.SegmentsBuilt[0])
}

func TestBuilder_Run_NoPendingDescriptorsIsNoOp(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")

	dir := t.TempDir()
	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	layout := config.NewLayout(dir)
	b := New(store, layout, nil)

	result, err := b.Run(context.Background(), Options{SegmentSize: 10, NList: 4})
	require.NoError(t, err)
	assert.Empty(t, result.SegmentsBuilt)
}

func writePlaceholderSegment(path string) error {
	idx := annindex.NewFlat(0)
	return idx.Write(path)
}
