package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/build"
	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/engine"
	"github.com/lolishinshi/imsearch-go/internal/extract"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x * 7) + (y * 13))})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestServer(t *testing.T, token string) (*Server, *engine.State) {
	t.Helper()
	t.Setenv("IMSEARCH_ANN", "flat")

	store, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	layout := config.NewLayout(dir)
	builder := build.New(store, layout, nil)
	pipeline := extract.NewPipeline(extract.NewStub(), extract.Options{})

	st := engine.New(annindex.NewFlat(0), store, pipeline, nil, builder,
		build.Options{SegmentSize: 10, NList: 4, Mode: build.MergeInMemory}, nil, nil)

	srv := New(st, config.ServerConfig{Token: token}, nil)
	return srv, st
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestServer_Docs_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Search_RequiresAuthWhenTokenSet(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodPost, "/search", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_AddThenSearch_RoundTrips(t *testing.T) {
	srv, st := newTestServer(t, "")
	raw := testJPEG(t)

	body, ct := multipartBody(t, "file", "a.jpg", raw)
	req := httptest.NewRequest(http.MethodPost, "/add", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Newly ingested descriptors only become searchable once a build
	// folds them into the active index snapshot (spec §4.4/§4.5).
	_, err := st.RunBuild(context.Background())
	require.NoError(t, err)

	body2, ct2 := multipartBody(t, "file", "a.jpg", raw)
	req2 := httptest.NewRequest(http.MethodPost, "/search?k=5", body2)
	req2.Header.Set("Content-Type", ct2)
	w2 := httptest.NewRecorder()
	srv.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)

	var results []searchResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &results))
	require.NotEmpty(t, results)
	assert.NotEmpty(t, results[0].Paths)
}

func TestServer_Stats_ResetClearsCounters(t *testing.T) {
	srv, st := newTestServer(t, "")
	st.Stats().ImagesIngested.Add(5)

	req := httptest.NewRequest(http.MethodPost, "/reset_stats", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, int64(0), st.Stats().Snapshot().ImagesIngested)
}

func TestServer_Build_RejectsWhileAlreadyRunning(t *testing.T) {
	srv, st := newTestServer(t, "")

	st.SetBuildBusyForTest(true)
	defer st.SetBuildBusyForTest(false)

	req := httptest.NewRequest(http.MethodPost, "/build", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}
