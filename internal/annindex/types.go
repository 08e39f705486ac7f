// Package annindex binds the external binary IVF ANN engine (spec §1,
// §4.4, §4.5): a quantized inverted-file index over Hamming space for
// 256-bit descriptors. The engine itself is an assumed-available
// native library, dlopened the same way internal/extract binds the
// descriptor extractor (ADR-022's purego pattern).
package annindex

import "context"

// VectorDim is the descriptor width in bytes.
const VectorDim = 32

// Hit is one result from a Search call: the id assigned at add time
// (spec §4.4 step 2, the parent image id repeated across every one of
// its descriptors) and its Hamming distance from the query.
type Hit struct {
	ID       int64
	Distance int32
}

// SearchOptions controls a single coarse-quantized search (spec §4.5).
type SearchOptions struct {
	KNN      int     // neighbors returned per query
	NProbe   int     // inverted lists visited
	Distance int32   // exclusive Hamming distance threshold: hits with distance >= Distance are discarded; 0 = engine default (VectorDim*8)
	EFSearch int     // HNSW coarse quantizer ef_search, if enabled
}

// Index is the capability set consumed by the build and search
// packages; both the native engine binding and any in-process
// fallback implement it.
type Index interface {
	// Train fits the coarse quantizer on a representative sample; used
	// only by the offline `train` subcommand to produce quantizer.bin.
	// Indexes built against a catalog consume a pre-trained quantizer
	// via LoadQuantizer instead (spec §1 "training ... is external").
	Train(ctx context.Context, vectors [][]byte) error
	// LoadQuantizer clones the frozen coarse quantizer at path into
	// this index (spec §4.4 step 1: "clone the template quantizer.bin
	// into a fresh IVF index"). MultiIndex treats it as a no-op;
	// FlatIndex loads the centroids stored at path.
	LoadQuantizer(ctx context.Context, path string) error
	// AddWithIDs inserts vectors under caller-assigned ids (spec §4.4
	// step 2: every vector carries its parent image id, so a query hit
	// resolves to an image with no further lookup).
	AddWithIDs(ctx context.Context, vectors [][]byte, ids []int64) error
	// Search runs one batched n x d query (spec §4.5 "search_many").
	Search(ctx context.Context, queries [][]byte, opts SearchOptions) ([][]Hit, error)
	// Write persists the index to path.
	Write(path string) error
	// Merge folds a segment previously written by Write into this
	// index (spec §4.4 merge step).
	Merge(ctx context.Context, segmentPath string) error
	// Ntotal returns the number of vectors added.
	Ntotal() int64
	// Close releases native resources.
	Close() error
}
