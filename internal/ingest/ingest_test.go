package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/extract"
)

func writeTestImage(t *testing.T, dir, name string, size int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/4+y/4)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestIngester_Run_AddsNewImages(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "a.png", 64)
	writeTestImage(t, dir, "b.png", 80)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pipeline := extract.NewPipeline(extract.NewStub(), extract.Options{MaxFeatures: 20})
	ing := New(store, pipeline, 2, nil)

	stats, err := ing.Run(context.Background(), dir, []string{"png"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 0, stats.Failed)
	assert.Greater(t, stats.BytesRead, int64(0))
	assert.Greater(t, stats.DescriptorsExtracted, int64(0))

	count, err := store.ImageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIngester_Run_SkipsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "a.png", 64)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_copy.png"), data, 0o644))

	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pipeline := extract.NewPipeline(extract.NewStub(), extract.Options{MaxFeatures: 20})
	ing := New(store, pipeline, 2, nil)

	stats, err := ing.Run(context.Background(), dir, []string{"png"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Skipped)
}

func TestIngester_Run_UsesConfiguredHashAlgorithm(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "a.png", 64)

	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pipeline := extract.NewPipeline(extract.NewStub(), extract.Options{MaxFeatures: 20})
	ing := New(store, pipeline, 1, nil)
	ing.HashAlgorithm = "sha256"

	stats, err := ing.Run(context.Background(), dir, []string{"png"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)

	raw, err := os.ReadFile(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	want := catalog.HashBytesWith("sha256", raw)
	id, err := store.ImageIDForHash(context.Background(), want)
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestIngester_Run_RecordsTooFewKeypointsWithZeroDescriptors(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "a.png", 64)

	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pipeline := extract.NewPipeline(extract.NewStub(), extract.Options{MaxFeatures: 20, MinKeypoints: 1000})
	ing := New(store, pipeline, 1, nil)

	stats, err := ing.Run(context.Background(), dir, []string{"png"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added, "an image below min_keypoints is still catalogued (spec §4.3), not skipped")
	assert.Equal(t, 0, stats.Skipped)

	count, err := store.ImageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	raw, err := os.ReadFile(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	hash := catalog.HashBytesWith("", raw)
	id, err := store.ImageIDForHash(context.Background(), hash)
	require.NoError(t, err)
	require.NotZero(t, id)

	pending, err := store.UnindexedDescriptors(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, pending, "zero-descriptor image contributes no vector rows")
}

func TestIngester_Run_FiltersBySize(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "big.png", 256)

	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pipeline := extract.NewPipeline(extract.NewStub(), extract.Options{MaxFeatures: 20, MaxSize: 64})
	ing := New(store, pipeline, 1, nil)

	stats, err := ing.Run(context.Background(), dir, []string{"png"})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 1, stats.Skipped)
}
