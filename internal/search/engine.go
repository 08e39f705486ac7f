package search

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/extract"
)

// Engine answers search and search_many queries against one index
// snapshot (spec §4.5). It holds no mutable index state itself;
// internal/engine swaps the *annindex.Index it points Engine at on
// reload, so concurrent searches always see a consistent snapshot.
type Engine struct {
	Index      annindex.Index
	Catalog    *catalog.Store
	Pipeline   *extract.Pipeline
	PhashCache *PhashCache
	// IDIndex is the hot-path cache of known image ids (spec §4.5); nil
	// falls back to a per-hit catalog lookup, which still works but
	// costs a DB round trip per hit.
	IDIndex *catalog.IDIndex
	Log     *slog.Logger

	// OnExtract, OnANNSearch, and OnCacheHit are optional observers for
	// the per-call timings and cache hits spec §4.7 tracks; internal/engine
	// wires these to update both its lightweight Stats snapshot and the
	// Prometheus collectors in one place.
	OnExtract   func(time.Duration)
	OnANNSearch func(time.Duration)
	OnCacheHit  func()
}

// New constructs an Engine. PhashCache may be nil to disable rerank
// caching (phashes are still computed fresh per request). idIndex may
// be nil; pass the engine state's cached IDIndex to avoid a DB round
// trip per IVF hit.
func New(idx annindex.Index, store *catalog.Store, pipeline *extract.Pipeline, phashCache *PhashCache, idIndex *catalog.IDIndex, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Index: idx, Catalog: store, Pipeline: pipeline, PhashCache: phashCache, IDIndex: idIndex, Log: log}
}

// Search extracts descriptors from one query image, searches the
// index, aggregates per-image scores, and optionally filters the top
// candidates by perceptual-hash distance (spec §4.5 steps 1-5).
func (e *Engine) Search(ctx context.Context, raw []byte, opts Options) ([]Match, error) {
	extractStart := time.Now()
	result, err := e.Pipeline.Extract(ctx, raw)
	e.observeExtract(time.Since(extractStart))
	if err != nil {
		return nil, err
	}
	if result.NumDescriptors() == 0 {
		return nil, nil
	}

	queries := splitDescriptors(result.Descriptors)
	annStart := time.Now()
	hits, err := e.Index.Search(ctx, queries, opts.annOptions())
	e.observeANNSearch(time.Since(annStart))
	if err != nil {
		return nil, err
	}

	ranked := Aggregate(hits, e.resolveVectorToImage(ctx), opts.ScoreByCount, opts.K)
	matches, err := e.hydrate(ctx, ranked)
	if err != nil {
		return nil, err
	}

	if opts.PhashThreshold > 0 {
		matches, err = e.rerankByPhash(ctx, raw, matches, opts.PhashThreshold)
		if err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// SearchMany runs Search over a batch of query images concurrently
// (spec §4.5 "exposes ... a batched search_many"), fanning extraction
// out across a bounded worker pool the way ingest does, then issuing
// one batched IVF search(n x d) call across every extracted descriptor
// (spec §5: "per-descriptor IVF calls may be batched").
func (e *Engine) SearchMany(ctx context.Context, raws [][]byte, opts Options) ([][]Match, error) {
	allQueries := make([][][]byte, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			result, err := e.Pipeline.Extract(gctx, raw)
			if err != nil {
				return nil // per-image extraction failure yields zero descriptors, not an aborted batch
			}
			allQueries[i] = splitDescriptors(result.Descriptors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flatQueries [][]byte
	offsets := make([]int, len(raws)+1)
	for i, qs := range allQueries {
		flatQueries = append(flatQueries, qs...)
		offsets[i+1] = offsets[i] + len(qs)
	}

	var flatHits [][]annindex.Hit
	if len(flatQueries) > 0 {
		annStart := time.Now()
		var err error
		flatHits, err = e.Index.Search(ctx, flatQueries, opts.annOptions())
		e.observeANNSearch(time.Since(annStart))
		if err != nil {
			return nil, err
		}
	}

	resolver := e.resolveVectorToImage(ctx)
	results := make([][]Match, len(raws))
	for i := range raws {
		hits := flatHits[offsets[i]:offsets[i+1]]
		ranked := Aggregate(hits, resolver, opts.ScoreByCount, opts.K)
		matches, err := e.hydrate(ctx, ranked)
		if err != nil {
			return nil, err
		}
		if opts.PhashThreshold > 0 {
			matches, err = e.rerankByPhash(ctx, raws[i], matches, opts.PhashThreshold)
			if err != nil {
				return nil, err
			}
		}
		results[i] = matches
	}
	return results, nil
}

// resolveVectorToImage validates an IVF hit id. The id stored in the
// index already IS the image id (spec §4.4 step 2, §4.5 step 2 "a list
// of knn hits of form (image_id, hamming_distance)"); validation only
// needs to confirm the image is still known, which the in-memory
// IDIndex answers without a database round trip when present.
func (e *Engine) resolveVectorToImage(ctx context.Context) func(int64) (int64, bool) {
	if e.IDIndex != nil {
		idIndex := e.IDIndex
		return func(imageID int64) (int64, bool) {
			if !idIndex.Contains(imageID) {
				return 0, false
			}
			return imageID, true
		}
	}
	return func(imageID int64) (int64, bool) {
		if _, err := e.Catalog.ResolveImage(ctx, imageID); err != nil {
			return 0, false
		}
		return imageID, true
	}
}

func (e *Engine) hydrate(ctx context.Context, ranked []Ranked) ([]Match, error) {
	matches := make([]Match, 0, len(ranked))
	for _, r := range ranked {
		img, err := e.Catalog.ResolveImage(ctx, r.ImageID)
		if err != nil {
			continue
		}
		matches = append(matches, Match{ImageID: r.ImageID, Path: img.Path, Paths: img.Paths, Hash: img.Hash, Score: r.Score, Count: r.Count})
	}
	return matches, nil
}

func (e *Engine) rerankByPhash(ctx context.Context, queryRaw []byte, matches []Match, threshold int) ([]Match, error) {
	queryHash, err := ComputePhash(queryRaw)
	if err != nil {
		return matches, nil
	}

	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		storedHash, ok := e.cachedOrComputePhash(m.ImageID, m.Path)
		if !ok {
			out = append(out, m)
			continue
		}
		if Distance(queryHash, storedHash) <= threshold {
			out = append(out, m)
		}
	}
	return out, nil
}

func (e *Engine) observeExtract(d time.Duration) {
	if e.OnExtract != nil {
		e.OnExtract(d)
	}
}

func (e *Engine) observeANNSearch(d time.Duration) {
	if e.OnANNSearch != nil {
		e.OnANNSearch(d)
	}
}

func (e *Engine) cachedOrComputePhash(imageID int64, path string) (uint64, bool) {
	if e.PhashCache != nil {
		if h, ok := e.PhashCache.Get(imageID); ok {
			if e.OnCacheHit != nil {
				e.OnCacheHit()
			}
			return h, true
		}
	}
	data, err := readFile(path)
	if err != nil {
		return 0, false
	}
	hash, err := ComputePhash(data)
	if err != nil {
		return 0, false
	}
	if e.PhashCache != nil {
		e.PhashCache.Put(imageID, hash)
	}
	return hash, true
}

func splitDescriptors(blob []byte) [][]byte {
	n := len(blob) / extract.DescriptorSize
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = blob[i*extract.DescriptorSize : (i+1)*extract.DescriptorSize]
	}
	return out
}
