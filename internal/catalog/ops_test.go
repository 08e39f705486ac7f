package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleDescriptors_EmptyCatalog(t *testing.T) {
	s := openTestStore(t)
	samples, err := s.SampleDescriptors(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestSampleDescriptors_RespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	descs := make([][]byte, 20)
	for i := range descs {
		descs[i] = []byte{byte(i)}
	}
	_, err := s.AddImage(ctx, "h1", "/a.jpg", descs)
	require.NoError(t, err)

	samples, err := s.SampleDescriptors(ctx, 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(samples), 5)
	assert.NotEmpty(t, samples)
}

func TestSampleDescriptors_NoLimitReturnsEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddImage(ctx, "h1", "/a.jpg", [][]byte{{1}, {2}, {3}})
	require.NoError(t, err)

	samples, err := s.SampleDescriptors(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, samples, 3)
}

func TestExportAll_IncludesPathsAndIndexedStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	img, err := s.AddImage(ctx, "h1", "/a.jpg", [][]byte{{1}, {2}})
	require.NoError(t, err)
	require.NoError(t, s.AppendPath(ctx, img.ID, "/b.jpg"))
	require.NoError(t, s.MarkIndexed(ctx, []int64{img.ID}))

	records, err := s.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "h1", records[0].Hash)
	assert.Equal(t, 2, records[0].VectorCount)
	assert.True(t, records[0].Indexed)
	assert.ElementsMatch(t, []string{"/a.jpg", "/b.jpg"}, records[0].Paths)
}

func TestExportAll_UnindexedImageReportsFalse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddImage(ctx, "h1", "/a.jpg", [][]byte{{1}})
	require.NoError(t, err)

	records, err := s.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Indexed)
}

func TestHashBytesWith_AlgorithmSelection(t *testing.T) {
	blake3Hash := HashBytesWith("blake3", []byte("hello"))
	sha256Hash := HashBytesWith("sha256", []byte("hello"))
	assert.NotEqual(t, blake3Hash, sha256Hash)
	assert.Equal(t, HashBytes([]byte("hello")), blake3Hash)
}

func TestHashBytesWith_UnknownAlgorithmDefaultsToBlake3(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("x")), HashBytesWith("", []byte("x")))
}
