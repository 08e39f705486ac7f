// Package httpapi implements the HTTP service (spec §4.6, C6):
// POST /search, POST /add, POST /build, POST /reload, GET /stats,
// POST /reset_stats, GET /docs, GET /metrics. The server holds no
// mutable state of its own beyond an optional bearer token; every
// request reaches the catalog and index exclusively through
// internal/engine.State.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lolishinshi/imsearch-go/internal/build"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/engine"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
	"github.com/lolishinshi/imsearch-go/internal/ingest"
	"github.com/lolishinshi/imsearch-go/internal/search"
)

// Server wires engine.State to net/http. No third-party router is
// used: none of the example repos this system is grounded on pulls in
// an HTTP router, so net/http's ServeMux (Go 1.22+ method+path
// patterns) serves every route directly.
type Server struct {
	Engine  *engine.State
	Token   string
	Timeout time.Duration
	Log     *slog.Logger

	mux *http.ServeMux
}

// New constructs a Server from the engine state and the parsed
// server config section.
func New(eng *engine.State, cfg config.ServerConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	timeout := 30 * time.Second
	if cfg.RequestTimeout != "" {
		if d, err := time.ParseDuration(cfg.RequestTimeout); err == nil {
			timeout = d
		}
	}

	s := &Server{Engine: eng, Token: cfg.Token, Timeout: timeout, Log: log}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("POST /add", s.handleAdd)
	s.mux.HandleFunc("POST /build", s.handleBuild)
	s.mux.HandleFunc("POST /reload", s.handleReload)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("POST /reset_stats", s.handleResetStats)
	s.mux.HandleFunc("GET /docs", s.handleDocs)
	s.mux.Handle("GET /metrics", s.metricsHandler())
}

func (s *Server) metricsHandler() http.Handler {
	if s.Engine.Metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(s.Engine.Metrics.Registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler, applying the bearer-auth gate
// (spec §4.6 "all endpoints except /docs require it") and a
// per-request timeout (spec §5 "per-request timeout is configurable;
// exceeding it returns 504") before dispatching to the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/docs" && !s.authorized(r) {
		writeJSONError(w, ierrors.New(ierrors.ErrCodeUnauthorized, "missing or invalid bearer token", nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
	defer cancel()
	r = r.WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.mux.ServeHTTP(w, r)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		writeJSONError(w, ierrors.New(ierrors.ErrCodeRequestTimeout, "request exceeded its deadline", ctx.Err()))
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Token == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return got != "" && got == s.Token
}

// searchResponse is the wire shape spec §6 names:
// { image_id, score, matches, paths }.
type searchResponse struct {
	ImageID int64    `json:"image_id"`
	Score   float64  `json:"score"`
	Matches int      `json:"matches"`
	Paths   []string `json:"paths"`
}

func toResponse(matches []search.Match) []searchResponse {
	out := make([]searchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, searchResponse{ImageID: m.ImageID, Score: m.Score, Matches: m.Count, Paths: m.Paths})
	}
	return out
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	opts, err := parseSearchOptions(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	files, err := readMultipartFiles(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	if len(files) == 0 {
		writeJSONError(w, ierrors.New(ierrors.ErrCodeBadRequest, "no file parts in request", nil))
		return
	}

	if len(files) == 1 {
		matches, err := s.Engine.Search(r.Context(), files[0], opts)
		if err != nil {
			writeJSONError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(matches))
		return
	}

	results, err := s.Engine.SearchMany(r.Context(), files, opts)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	batch := make([][]searchResponse, len(results))
	for i, m := range results {
		batch[i] = toResponse(m)
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	overwrite := r.URL.Query().Get("overwrite") == "true"
	var replace *ingest.ReplaceRule
	if spec := r.URL.Query().Get("replace"); spec != "" {
		rule, err := ingest.ParseReplaceRule(spec)
		if err != nil {
			writeJSONError(w, ierrors.New(ierrors.ErrCodeBadRequest, "invalid replace rule", err))
			return
		}
		replace = rule
	}

	files, names, err := readMultipartFilesWithNames(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	ing := s.Engine.NewIngester(4, overwrite, replace)
	stats := ingest.Stats{}
	for i, data := range files {
		out, err := ing.AddBytes(r.Context(), names[i], data)
		stats.Scanned++
		if err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, ingest.FileError{Path: names[i], Err: err.Error()})
			continue
		}
		if out {
			stats.Added++
		} else {
			stats.Skipped++
		}
	}
	s.Engine.RecordIngest(r.Context(), stats)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	result, err := s.Engine.RunBuild(r.Context())
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	opts := s.Engine.BuildOptionsSnapshot()
	var err error
	if opts.Mode == build.MergeNone {
		err = s.Engine.ReloadSegmentsFromDisk(opts.ANNLibrary, opts.NList, s.Engine.Builder.Layout)
	} else {
		onDiskPath := ""
		if opts.Mode == build.MergeOnDisk {
			onDiskPath = s.Engine.Builder.Layout.OnDiskVecs
		}
		err = s.Engine.ReloadFromDisk(opts.ANNLibrary, opts.NList, onDiskPath, s.Engine.Builder.Layout.MasterIndex)
	}
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Stats().Snapshot())
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.Engine.Stats().Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, docsHTML)
}

func parseSearchOptions(r *http.Request) (search.Options, error) {
	q := r.URL.Query()
	opts := search.Options{K: 10, KNN: 10, NProbe: 8, Distance: 64}
	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, ierrors.New(ierrors.ErrCodeBadRequest, "invalid k", err)
		}
		opts.K = n
	}
	if v := q.Get("knn"); v != "" {
		n, _ := strconv.Atoi(v)
		opts.KNN = n
	}
	if v := q.Get("nprobe"); v != "" {
		n, _ := strconv.Atoi(v)
		opts.NProbe = n
	}
	if v := q.Get("ef_search"); v != "" {
		n, _ := strconv.Atoi(v)
		opts.EFSearch = n
	}
	if v := q.Get("distance"); v != "" {
		n, _ := strconv.Atoi(v)
		opts.Distance = int32(n)
	}
	if v := q.Get("phash_threshold"); v != "" {
		n, _ := strconv.Atoi(v)
		opts.PhashThreshold = n
	}
	opts.ScoreByCount = q.Get("score_by_count") == "true"
	return opts, nil
}

func readMultipartFiles(r *http.Request) ([][]byte, error) {
	files, _, err := readMultipartFilesWithNames(r)
	return files, err
}

func readMultipartFilesWithNames(r *http.Request) ([][]byte, []string, error) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		return nil, nil, ierrors.New(ierrors.ErrCodeBadRequest, "invalid multipart body", err)
	}
	var parts []*multipart.FileHeader
	if r.MultipartForm != nil {
		parts = r.MultipartForm.File["file"]
	}
	if len(parts) == 0 {
		return nil, nil, nil
	}

	files := make([][]byte, 0, len(parts))
	names := make([]string, 0, len(parts))
	for _, fh := range parts {
		f, err := fh.Open()
		if err != nil {
			return nil, nil, ierrors.Wrap(ierrors.ErrCodeBadRequest, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, nil, ierrors.Wrap(ierrors.ErrCodeBadRequest, err)
		}
		files = append(files, data)
		names = append(names, fh.Filename)
	}
	return files, names, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the stable JSON shape spec §7 requires:
// {error, kind, detail}.
type errorBody struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Detail map[string]string `json:"detail,omitempty"`
}

func writeJSONError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	body := errorBody{Error: err.Error(), Kind: string(ierrors.GetCategory(err))}
	if ie, ok := err.(*ierrors.Error); ok {
		body.Detail = ie.Details
	}
	writeJSON(w, status, body)
}

func httpStatus(err error) int {
	switch ierrors.GetCode(err) {
	case ierrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ierrors.ErrCodeBadRequest, ierrors.ErrCodeDecodeFailed, ierrors.ErrCodeFilteredBySize,
		ierrors.ErrCodeTooFewKeypoints, ierrors.ErrCodeInvalidOptions:
		return http.StatusBadRequest
	case ierrors.ErrCodeRequestTimeout:
		return http.StatusGatewayTimeout
	case ierrors.ErrCodeImageNotFound:
		return http.StatusNotFound
	case ierrors.ErrCodeDuplicateHash, ierrors.ErrCodeBuildInFlight:
		return http.StatusConflict
	case ierrors.ErrCodeOutOfMemory:
		return http.StatusInsufficientStorage
	}
	switch ierrors.GetCategory(err) {
	case ierrors.CategoryNotFound:
		return http.StatusNotFound
	case ierrors.CategoryConflict:
		return http.StatusConflict
	case ierrors.CategoryInput:
		return http.StatusBadRequest
	case ierrors.CategoryTransport:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

const docsHTML = `<!doctype html>
<html>
<head><title>imsearch API docs</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
<script>
window.onload = () => SwaggerUIBundle({
  spec: {
    openapi: "3.0.0",
    info: { title: "imsearch", version: "1" },
    paths: {
      "/search": { post: { summary: "Search by image" } },
      "/add": { post: { summary: "Ingest image(s)" } },
      "/build": { post: { summary: "Build/merge the index" } },
      "/reload": { post: { summary: "Reload the master index" } },
      "/stats": { get: { summary: "Counters and latency histograms" } },
      "/reset_stats": { post: { summary: "Zero counters" } },
      "/metrics": { get: { summary: "Prometheus exposition" } }
    }
  },
  dom_id: "#swagger-ui",
});
</script>
</body>
</html>`
