package annindex

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrMultiIndexReadOnly is returned by MultiIndex's AddWithIDs, Write
// and Merge: a MultiIndex exists only to serve queries across
// already-written segments, never to build one.
var ErrMultiIndexReadOnly = errors.New("annindex: multi-index is read-only")

// MultiIndex fans a search out across several independently-opened
// segment indexes and unions the per-query hit lists, backing
// `--no-merge` builds (spec §4.4 "No merge: leave segments as-is; the
// search engine must be able to query a list of segment indices in
// parallel and union the results"). It is read-only: AddWithIDs, Write
// and Merge return ErrMultiIndexReadOnly, and Train and LoadQuantizer
// are no-ops, since a MultiIndex is assembled purely to serve queries
// against already-written segment files.
type MultiIndex struct {
	segments []Index
}

// NewMulti wraps already-opened segment indexes. Closing the returned
// MultiIndex closes every wrapped segment.
func NewMulti(segments []Index) *MultiIndex {
	return &MultiIndex{segments: segments}
}

func (m *MultiIndex) Train(ctx context.Context, vectors [][]byte) error {
	return ctx.Err()
}

func (m *MultiIndex) LoadQuantizer(ctx context.Context, path string) error {
	return ctx.Err()
}

func (m *MultiIndex) AddWithIDs(ctx context.Context, vectors [][]byte, ids []int64) error {
	return ErrMultiIndexReadOnly
}

func (m *MultiIndex) Write(path string) error {
	return ErrMultiIndexReadOnly
}

func (m *MultiIndex) Merge(ctx context.Context, segmentPath string) error {
	return ErrMultiIndexReadOnly
}

// Search queries every segment concurrently (spec §5 bounded-pool
// concurrency model applied to the no-merge fan-out) and unions each
// query's hits across segments; search.Aggregate re-ranks the union,
// so no additional truncation happens here.
func (m *MultiIndex) Search(ctx context.Context, queries [][]byte, opts SearchOptions) ([][]Hit, error) {
	if len(m.segments) == 0 {
		return make([][]Hit, len(queries)), nil
	}

	perSegment := make([][][]Hit, len(m.segments))
	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range m.segments {
		i, seg := i, seg
		g.Go(func() error {
			hits, err := seg.Search(gctx, queries, opts)
			if err != nil {
				return err
			}
			perSegment[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	union := make([][]Hit, len(queries))
	for _, segHits := range perSegment {
		for q, hits := range segHits {
			union[q] = append(union[q], hits...)
		}
	}
	return union, nil
}

// Ntotal sums vector counts across every wrapped segment.
func (m *MultiIndex) Ntotal() int64 {
	var total int64
	for _, seg := range m.segments {
		total += seg.Ntotal()
	}
	return total
}

// Close closes every wrapped segment, collecting the first error.
func (m *MultiIndex) Close() error {
	var first error
	for _, seg := range m.segments {
		if err := seg.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
