// Package engine holds the process-wide mutable state spec.md §9
// calls out as a design hazard (the running index snapshot and the
// build-in-progress flag) behind one explicit "engine state" object,
// exactly as that design note prescribes: initialized at startup,
// passed to every request handler, dropped at shutdown.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/build"
	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/extract"
	"github.com/lolishinshi/imsearch-go/internal/ierrors"
	"github.com/lolishinshi/imsearch-go/internal/ingest"
	"github.com/lolishinshi/imsearch-go/internal/metrics"
	"github.com/lolishinshi/imsearch-go/internal/search"
)

// Snapshot is one reference-counted handle on a loaded index (spec §5
// "Master index: ... referenced by an atomically swappable handle.
// Readers hold a reference-counted snapshot for the duration of a
// single request"). The index is closed once the last reference is
// released.
type Snapshot struct {
	idx      annindex.Index
	refcount atomic.Int64
}

func newSnapshot(idx annindex.Index) *Snapshot {
	s := &Snapshot{idx: idx}
	s.refcount.Store(1)
	return s
}

func (s *Snapshot) acquire() *Snapshot {
	s.refcount.Add(1)
	return s
}

func (s *Snapshot) release() {
	if s.refcount.Add(-1) == 0 {
		_ = s.idx.Close()
	}
}

// State is the single object through which every request handler
// reaches the index, the catalog, and the build/search machinery. It
// owns exactly the two pieces of process-wide mutable state spec.md
// §9 flags: the current index snapshot and the build-in-progress
// flag.
type State struct {
	current atomic.Pointer[Snapshot]

	Catalog    *catalog.Store
	Pipeline   *extract.Pipeline
	PhashCache *search.PhashCache
	Builder    *build.Builder
	Log        *slog.Logger
	Metrics    *metrics.Metrics

	buildOpts     build.Options
	hashAlgorithm string
	buildBusy     atomic.Bool
	progress      atomic.Pointer[BuildProgress]
	stats         *Stats
	idIndex       atomic.Pointer[catalog.IDIndex]
}

// New constructs a State around an already-open index; RunBuild wires
// the builder's OnSegment/OnMerge hooks so a build running through
// this State keeps BuildProgress current. m may be nil to disable
// Prometheus recording; the lightweight Stats snapshot behind
// GET /stats always works regardless.
func New(idx annindex.Index, store *catalog.Store, pipeline *extract.Pipeline, phashCache *search.PhashCache, builder *build.Builder, buildOpts build.Options, m *metrics.Metrics, log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	st := &State{
		Catalog:       store,
		Pipeline:      pipeline,
		PhashCache:    phashCache,
		Builder:       builder,
		Log:           log,
		Metrics:       m,
		buildOpts:     buildOpts,
		hashAlgorithm: "blake3",
		stats:         NewStats(),
	}
	st.current.Store(newSnapshot(idx))
	st.idIndex.Store(catalog.NewIDIndex(nil))
	if ids, err := store.AllImageIDs(context.Background()); err == nil {
		st.idIndex.Store(catalog.NewIDIndex(ids))
	}
	return st
}

// RefreshIDIndex reloads the hot-path image-id cache from the catalog
// (spec §4.5 "hot path caches"). Called after an ingest that added images so newly
// added images are immediately resolvable from search hits.
func (st *State) RefreshIDIndex(ctx context.Context) error {
	ids, err := st.Catalog.AllImageIDs(ctx)
	if err != nil {
		return err
	}
	st.idIndex.Store(catalog.NewIDIndex(ids))
	return nil
}

// SetHashAlgorithm overrides the content-hash algorithm new Ingesters
// are constructed with (spec §3 "configurable algorithm").
func (st *State) SetHashAlgorithm(algorithm string) { st.hashAlgorithm = algorithm }

// Acquire returns the currently active snapshot with an extra
// reference held on the caller's behalf; the caller must call
// Release exactly once. Safe to call concurrently with Reload/build.
func (st *State) Acquire() *Snapshot {
	for {
		snap := st.current.Load()
		snap.acquire()
		if st.current.Load() == snap {
			return snap
		}
		// A reload raced us in; the snapshot we just acquired may
		// already be on its way out. Drop our speculative ref and retry.
		snap.release()
	}
}

// Release drops the caller's reference to a Snapshot obtained from
// Acquire.
func (st *State) Release(snap *Snapshot) { snap.release() }

// BuildOptionsSnapshot returns the build options this State reloads
// with, for callers (the HTTP /reload handler) that need to reopen
// the master index the same way a build would have left it.
func (st *State) BuildOptionsSnapshot() build.Options { return st.buildOpts }

// SetBuildBusyForTest forces the build-in-progress flag, letting other
// packages' tests exercise the 409 path without racing a real build.
func (st *State) SetBuildBusyForTest(v bool) { st.buildBusy.Store(v) }

// Reload atomically swaps the active snapshot to idx. In-flight
// readers keep their own reference via Acquire/Release and complete
// against the old snapshot; it is closed once the last such reference
// drops (spec §4.5 "Reload").
func (st *State) Reload(idx annindex.Index) {
	next := newSnapshot(idx)
	old := st.current.Swap(next)
	old.release()
}

// ReloadFromDisk reopens the master index at path and reloads it.
func (st *State) ReloadFromDisk(annLibrary string, nlist int, onDiskPath, masterPath string) error {
	idx, err := annindex.New(annLibrary, nlist, onDiskPath)
	if err != nil {
		return err
	}
	if err := idx.Merge(context.Background(), masterPath); err != nil {
		_ = idx.Close()
		return err
	}
	st.Reload(idx)
	return nil
}

// ReloadSegmentsFromDisk reopens every segment file under layout as a
// MultiIndex (spec §4.4 "No merge"), used in place of ReloadFromDisk
// when the configured build mode leaves segments unmerged.
func (st *State) ReloadSegmentsFromDisk(annLibrary string, nlist int, layout config.Layout) error {
	paths, err := build.ListSegmentPaths(layout)
	if err != nil {
		return err
	}
	idx, err := annindex.OpenSegments(context.Background(), annLibrary, nlist, paths)
	if err != nil {
		return err
	}
	st.Reload(idx)
	return nil
}

// BuildInProgress reports whether a build is currently running
// (spec §4.6 POST /build "Rejects if a build is already running").
func (st *State) BuildInProgress() bool {
	return st.buildBusy.Load()
}

// Progress returns the progress tracker for the most recent (or
// currently running) build, or nil if no build has run yet.
func (st *State) Progress() *BuildProgress {
	return st.progress.Load()
}

// Stats returns the process-wide counters backing GET /stats.
func (st *State) Stats() *Stats { return st.stats }

// RunBuild runs one build through the State's Builder, serialized
// against any other build via the process-wide flag (spec §5 "only
// one build may be in flight process-wide"), then folds the freshly
// written master index into the active snapshot so subsequent
// searches see it. Reads against the previous snapshot proceed
// uninterrupted for their duration (spec §4.6 "readers take a read
// lock on the current index snapshot").
func (st *State) RunBuild(ctx context.Context) (build.Result, error) {
	if !st.buildBusy.CompareAndSwap(false, true) {
		return build.Result{}, ierrors.New(ierrors.ErrCodeBuildInFlight, "a build is already in progress", nil)
	}
	defer st.buildBusy.Store(false)

	progress := NewBuildProgress()
	st.progress.Store(progress)

	st.Builder.OnSegment = progress.updateSegment
	st.Builder.OnMerge = progress.enterMerge
	defer func() { st.Builder.OnSegment = nil; st.Builder.OnMerge = nil }()

	result, err := st.Builder.Run(ctx, st.buildOpts)
	if err != nil {
		progress.setError(err.Error())
		return result, err
	}
	progress.setReady()

	if len(result.SegmentsBuilt) > 0 {
		if st.buildOpts.Mode == build.MergeNone {
			if reloadErr := st.ReloadSegmentsFromDisk(st.buildOpts.ANNLibrary, st.buildOpts.NList, st.Builder.Layout); reloadErr != nil {
				return result, reloadErr
			}
		} else {
			onDiskPath := ""
			if st.buildOpts.Mode == build.MergeOnDisk {
				onDiskPath = st.Builder.Layout.OnDiskVecs
			}
			if reloadErr := st.ReloadFromDisk(st.buildOpts.ANNLibrary, st.buildOpts.NList, onDiskPath, st.Builder.Layout.MasterIndex); reloadErr != nil {
				return result, reloadErr
			}
		}
	}
	return result, nil
}

// newEngine builds a search.Engine bound to snap, wiring its
// per-call observers to this State's lightweight Stats and, if
// configured, the Prometheus collectors (spec §4.7).
func (st *State) newEngine(snap *Snapshot) *search.Engine {
	return &search.Engine{
		Index: snap.idx, Catalog: st.Catalog, Pipeline: st.Pipeline,
		PhashCache: st.PhashCache, IDIndex: st.idIndex.Load(), Log: st.Log,
		OnExtract: func(d time.Duration) {
			st.stats.ObserveExtract(d)
			if st.Metrics != nil {
				st.Metrics.ExtractLatency.Observe(d.Seconds())
			}
		},
		OnANNSearch: func(d time.Duration) {
			st.stats.ObserveANNSearch(d)
			if st.Metrics != nil {
				st.Metrics.ANNSearchLatency.Observe(d.Seconds())
			}
		},
		OnCacheHit: func() {
			st.stats.CacheHits.Add(1)
			if st.Metrics != nil {
				st.Metrics.CacheHits.Inc()
			}
		},
	}
}

// Search runs one query against the active snapshot, bookkeeping
// stats the way spec §4.7 names (searches served by status,
// end-to-end latency).
func (st *State) Search(ctx context.Context, raw []byte, opts search.Options) ([]search.Match, error) {
	snap := st.Acquire()
	defer st.Release(snap)

	start := time.Now()
	eng := st.newEngine(snap)
	matches, err := eng.Search(ctx, raw, opts)
	elapsed := time.Since(start)
	st.stats.ObserveEndToEnd(elapsed)
	if err != nil {
		st.stats.SearchesError.Add(1)
		st.recordSearch("error", elapsed)
		return nil, err
	}
	st.stats.SearchesOK.Add(1)
	st.recordSearch("ok", elapsed)
	return matches, nil
}

func (st *State) recordSearch(status string, elapsed time.Duration) {
	if st.Metrics == nil {
		return
	}
	st.Metrics.SearchesTotal.WithLabelValues(status).Inc()
	st.Metrics.SearchLatency.Observe(elapsed.Seconds())
}

// SearchMany runs a batch of queries against one acquired snapshot
// (spec §4.5 "search_many"), holding a single reference for the whole
// batch instead of one per image.
func (st *State) SearchMany(ctx context.Context, raws [][]byte, opts search.Options) ([][]search.Match, error) {
	snap := st.Acquire()
	defer st.Release(snap)

	start := time.Now()
	eng := st.newEngine(snap)
	results, err := eng.SearchMany(ctx, raws, opts)
	elapsed := time.Since(start)
	st.stats.ObserveEndToEnd(elapsed)
	if err != nil {
		st.stats.SearchesError.Add(int64(len(raws)))
		st.recordSearch("error", elapsed)
		return nil, err
	}
	st.stats.SearchesOK.Add(int64(len(raws)))
	st.recordSearch("ok", elapsed)
	return results, nil
}

// NewIngester constructs an Ingester sharing this State's catalog and
// pipeline, so callers (HTTP /add, the `add` CLI subcommand) don't
// have to thread those through separately.
func (st *State) NewIngester(workers int, overwrite bool, replace *ingest.ReplaceRule) *ingest.Ingester {
	ing := ingest.New(st.Catalog, st.Pipeline, workers, st.Log)
	ing.Overwrite = overwrite
	ing.Replace = replace
	ing.HashAlgorithm = st.hashAlgorithm
	return ing
}

// RecordIngest folds one ingest run's outcome into the process-wide
// stats and metrics (spec §4.7 "images ingested"), and refreshes the
// hot-path id cache if any image was newly added so subsequent
// searches can resolve hits against it immediately.
func (st *State) RecordIngest(ctx context.Context, stats ingest.Stats) {
	st.stats.ImagesIngested.Add(int64(stats.Added))
	st.stats.BytesRead.Add(stats.BytesRead)
	st.stats.DescriptorsExtracted.Add(stats.DescriptorsExtracted)
	if st.Metrics != nil {
		st.Metrics.ImagesIngested.Add(float64(stats.Added))
		st.Metrics.BytesRead.Add(float64(stats.BytesRead))
		st.Metrics.DescriptorsExtracted.Add(float64(stats.DescriptorsExtracted))
	}
	if stats.Added > 0 {
		if err := st.RefreshIDIndex(ctx); err != nil {
			st.Log.Warn("failed to refresh id cache after ingest", "error", err)
		}
	}
}
