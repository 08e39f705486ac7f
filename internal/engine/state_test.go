package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/build"
	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/extract"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
	"github.com/lolishinshi/imsearch-go/internal/search"
)

// fakeIndex is a minimal annindex.Index that only tracks whether it
// has been closed, for exercising Snapshot refcounting without a real
// ANN engine.
type fakeIndex struct {
	closed *bool
}

func newFakeIndex() *fakeIndex { return &fakeIndex{closed: new(bool)} }

func (f *fakeIndex) Train(ctx context.Context, vectors [][]byte) error        { return nil }
func (f *fakeIndex) LoadQuantizer(ctx context.Context, path string) error     { return nil }
func (f *fakeIndex) AddWithIDs(ctx context.Context, vectors [][]byte, ids []int64) error {
	return nil
}
func (f *fakeIndex) Search(ctx context.Context, queries [][]byte, opts annindex.SearchOptions) ([][]annindex.Hit, error) {
	return make([][]annindex.Hit, len(queries)), nil
}
func (f *fakeIndex) Write(path string) error             { return nil }
func (f *fakeIndex) Merge(ctx context.Context, path string) error { return nil }
func (f *fakeIndex) Ntotal() int64                        { return 0 }
func (f *fakeIndex) Close() error                         { *f.closed = true; return nil }

func newTestState(t *testing.T, idx annindex.Index) *State {
	t.Helper()
	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	layout := config.NewLayout(dir)
	builder := build.New(store, layout, nil)
	pipeline := extract.NewPipeline(extract.NewStub(), extract.Options{})

	return New(idx, store, pipeline, nil, builder, build.Options{SegmentSize: 10, NList: 4, Mode: build.MergeInMemory}, nil, nil)
}

func TestState_Acquire_HoldsSnapshotAlive(t *testing.T) {
	idx := newFakeIndex()
	st := newTestState(t, idx)

	snap := st.Acquire()
	st.Reload(newFakeIndex())
	assert.False(t, *idx.closed, "snapshot must stay open while a reader holds it")

	st.Release(snap)
	assert.True(t, *idx.closed, "snapshot must close once its last reader releases")
}

func TestState_Reload_ClosesImmediatelyWithNoReaders(t *testing.T) {
	idx := newFakeIndex()
	st := newTestState(t, idx)

	st.Reload(newFakeIndex())
	assert.True(t, *idx.closed)
}

func TestState_RunBuild_RejectsWhileAlreadyRunning(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")
	st := newTestState(t, annindex.NewFlat(0))

	st.buildBusy.Store(true)
	defer st.buildBusy.Store(false)

	_, err := st.RunBuild(context.Background())
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeBuildInFlight, ierrors.GetCode(err))
}

func TestState_RunBuild_ReloadsSnapshotAfterMerge(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")
	st := newTestState(t, annindex.NewFlat(0))

	ctx := context.Background()
	_, err := st.Catalog.AddImage(ctx, "h1", "/a.jpg", [][]byte{make([]byte, annindex.VectorDim)})
	require.NoError(t, err)

	result, err := st.RunBuild(ctx)
	require.NoError(t, err)
	assert.Len(t, result.SegmentsBuilt, 1)

	progress := st.Progress().Snapshot()
	assert.Equal(t, string(BuildReady), progress.Status)
	assert.Equal(t, int64(1), progress.VectorsAdded)

	snap := st.Acquire()
	defer st.Release(snap)
	assert.Equal(t, int64(1), snap.idx.Ntotal())
}

func TestState_RunBuild_NoMergeReloadsMultiIndexSnapshot(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")
	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	layout := config.NewLayout(dir)
	builder := build.New(store, layout, nil)
	pipeline := extract.NewPipeline(extract.NewStub(), extract.Options{})
	st := New(annindex.NewFlat(0), store, pipeline, nil, builder, build.Options{SegmentSize: 1, NList: 4, Mode: build.MergeNone}, nil, nil)

	ctx := context.Background()
	_, err = store.AddImage(ctx, "h1", "/a.jpg", [][]byte{make([]byte, annindex.VectorDim)})
	require.NoError(t, err)
	_, err = store.AddImage(ctx, "h2", "/b.jpg", [][]byte{make([]byte, annindex.VectorDim)})
	require.NoError(t, err)

	result, err := st.RunBuild(ctx)
	require.NoError(t, err)
	assert.Len(t, result.SegmentsBuilt, 2, "segment size 1 over two images builds two segments")

	snap := st.Acquire()
	defer st.Release(snap)
	assert.Equal(t, int64(2), snap.idx.Ntotal(), "no-merge reload must see every segment's vectors")
}

func TestState_SetHashAlgorithm_PropagatesToNewIngesters(t *testing.T) {
	st := newTestState(t, newFakeIndex())
	st.SetHashAlgorithm("sha256")

	ing := st.NewIngester(1, false, nil)
	assert.Equal(t, "sha256", ing.HashAlgorithm)
}

func TestSearch_UndecodableQueryReturnsError(t *testing.T) {
	t.Setenv("IMSEARCH_ANN", "flat")
	st := newTestState(t, annindex.NewFlat(0))

	matches, err := st.Search(context.Background(), []byte{}, search.Options{K: 10, KNN: 10})
	require.Error(t, err) // empty bytes fail to decode as an image
	assert.Nil(t, matches)
}
