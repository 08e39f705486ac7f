package annindex

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
)

// FlatIndex is a deterministic, pure-Go brute-force Hamming index. It
// backs unit tests and small offline corpora where the native ANN
// engine is unavailable, the same way extract.NewStub backs tests for
// the extractor — test/offline infrastructure, not a production
// substitute for the external engine. Its Train/LoadQuantizer/Write
// triad still exercises a real FlatQuantizer (spec's capability-set
// redesign for the coarse quantizer), so `imsearch train` produces a
// genuine quantizer.bin even when ANNLibrary is unset.
type FlatIndex struct {
	mu        sync.RWMutex
	nlist     int
	ids       []int64
	vectors   [][]byte
	quant     *FlatQuantizer
	quantOnly bool
}

// NewFlat returns an empty brute-force Index with nlist centroids
// available to Train.
func NewFlat(nlist int) Index {
	return &FlatIndex{nlist: nlist}
}

// Train picks up to nlist evenly-strided samples as centroids and
// builds a FlatQuantizer from them (spec §9's default coarse
// quantizer). A FlatIndex used purely to hold a trained quantizer
// never receives AddWithIDs, so Write knows to serialize centroids
// instead of segment data.
func (f *FlatIndex) Train(ctx context.Context, vectors [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return fmt.Errorf("annindex: no training vectors")
	}
	k := f.nlist
	if k <= 0 || k > len(vectors) {
		k = len(vectors)
	}
	centroids := make([][]byte, k)
	stride := float64(len(vectors)) / float64(k)
	for i := range centroids {
		centroids[i] = vectors[int(float64(i)*stride)]
	}
	f.mu.Lock()
	f.quant = NewFlatQuantizer(centroids)
	f.quantOnly = true
	f.mu.Unlock()
	return nil
}

// LoadQuantizer clones the quantizer previously written by Write into
// this index.
func (f *FlatIndex) LoadQuantizer(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loaded, err := ReadFlat(path)
	if err != nil {
		return err
	}
	centroids := loaded.(*FlatIndex).vectors
	f.mu.Lock()
	f.quant = NewFlatQuantizer(centroids)
	f.mu.Unlock()
	return nil
}

func (f *FlatIndex) AddWithIDs(ctx context.Context, vectors [][]byte, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vectors) != len(ids) {
		return fmt.Errorf("annindex: vectors/ids length mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quantOnly = false
	f.ids = append(f.ids, ids...)
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *FlatIndex) Search(ctx context.Context, queries [][]byte, opts SearchOptions) ([][]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	knn := opts.KNN
	if knn <= 0 {
		knn = 10
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	results := make([][]Hit, len(queries))
	for qi, q := range queries {
		hits := make([]Hit, 0, len(f.vectors))
		for i, v := range f.vectors {
			d := HammingDistance(q, v)
			if opts.Distance > 0 && d >= opts.Distance {
				continue
			}
			hits = append(hits, Hit{ID: f.ids[i], Distance: d})
		}
		sort.Slice(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
		if len(hits) > knn {
			hits = hits[:knn]
		}
		results[qi] = hits
	}
	return results, nil
}

func (f *FlatIndex) Merge(ctx context.Context, segmentPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	other, err := ReadFlat(segmentPath)
	if err != nil {
		return err
	}
	flat := other.(*FlatIndex)
	return f.AddWithIDs(ctx, flat.vectors, flat.ids)
}

// Write persists the index. A quantizer-only index (populated by
// Train, never AddWithIDs) writes its centroids under synthetic
// sequential ids so LoadQuantizer's ReadFlat round-trips them;
// otherwise it writes the usual id/vector segment data.
func (f *FlatIndex) Write(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.quantOnly && f.quant != nil {
		ids := make([]int64, len(f.quant.centroids))
		for i := range ids {
			ids[i] = int64(i)
		}
		return os.WriteFile(path, encodeFlat(ids, f.quant.centroids), 0o644)
	}
	return os.WriteFile(path, encodeFlat(f.ids, f.vectors), 0o644)
}

func (f *FlatIndex) Ntotal() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.ids))
}

func (f *FlatIndex) Close() error { return nil }

// ReadFlat reconstructs a FlatIndex previously written by Write, used
// by the build package when merging segments with ANNLibrary=="" in
// tests and offline development.
func ReadFlat(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ids, vectors := decodeFlat(data)
	return &FlatIndex{ids: ids, vectors: vectors}, nil
}

func encodeFlat(ids []int64, vectors [][]byte) []byte {
	out := make([]byte, 0, len(ids)*(8+VectorDim))
	for i, id := range ids {
		var buf [8]byte
		for b := 0; b < 8; b++ {
			buf[b] = byte(id >> (8 * b))
		}
		out = append(out, buf[:]...)
		out = append(out, vectors[i]...)
	}
	return out
}

func decodeFlat(data []byte) ([]int64, [][]byte) {
	stride := 8 + VectorDim
	n := len(data) / stride
	ids := make([]int64, n)
	vectors := make([][]byte, n)
	for i := 0; i < n; i++ {
		row := data[i*stride : (i+1)*stride]
		var id int64
		for b := 0; b < 8; b++ {
			id |= int64(row[b]) << (8 * b)
		}
		ids[i] = id
		vectors[i] = append([]byte(nil), row[8:]...)
	}
	return ids, vectors
}
