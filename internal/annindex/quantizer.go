package annindex

import (
	"sync"

	"github.com/coder/hnsw"
)

// Quantizer assigns a descriptor to a coarse bucket id, the first
// stage of the inverted-file index (spec §4.4). bucketCount is fixed
// at construction.
type Quantizer interface {
	Assign(vector []byte) int
	BucketCount() int
}

// FlatQuantizer assigns buckets by brute-force nearest-centroid search
// over Hamming distance (spec §9 default coarse quantizer).
type FlatQuantizer struct {
	centroids [][]byte
}

// NewFlatQuantizer builds a quantizer from pre-trained centroids.
func NewFlatQuantizer(centroids [][]byte) *FlatQuantizer {
	return &FlatQuantizer{centroids: centroids}
}

func (q *FlatQuantizer) Assign(vector []byte) int {
	best, bestDist := 0, int32(1<<31-1)
	for i, c := range q.centroids {
		if d := HammingDistance(vector, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func (q *FlatQuantizer) BucketCount() int { return len(q.centroids) }

// HNSWQuantizer assigns buckets via an approximate nearest-centroid
// search over a coder/hnsw graph (spec §4.4 "optional HNSW coarse
// quantizer"), grounded on the teacher's internal/store.HNSWStore:
// descriptors are expanded to one float32 per bit so hnsw's built-in
// float32 distance machinery can run a Hamming-equivalent metric.
type HNSWQuantizer struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int]
	n     int
}

// NewHNSWQuantizer builds a quantizer from pre-trained centroids,
// inserting each into an HNSW graph keyed by its bucket index.
func NewHNSWQuantizer(centroids [][]byte, efSearch int) *HNSWQuantizer {
	graph := hnsw.NewGraph[int]()
	graph.Distance = bitHammingDistance
	if efSearch > 0 {
		graph.EfSearch = efSearch
	}
	q := &HNSWQuantizer{graph: graph}
	for i, c := range centroids {
		graph.Add(hnsw.MakeNode(i, bytesToBits(c)))
		q.n++
	}
	return q
}

func (q *HNSWQuantizer) Assign(vector []byte) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.graph.Len() == 0 {
		return 0
	}
	nodes := q.graph.Search(bytesToBits(vector), 1)
	if len(nodes) == 0 {
		return 0
	}
	return nodes[0].Key
}

func (q *HNSWQuantizer) BucketCount() int { return q.n }

func bytesToBits(b []byte) []float32 {
	out := make([]float32, len(b)*8)
	for i, v := range b {
		for bit := 0; bit < 8; bit++ {
			if v&(1<<uint(bit)) != 0 {
				out[i*8+bit] = 1
			}
		}
	}
	return out
}

func bitHammingDistance(a, b []float32) float32 {
	var dist float32
	for i := range a {
		if a[i] != b[i] {
			dist++
		}
	}
	return dist
}
