// Package search implements query-side aggregation and ranking (spec
// §2 C5, §4.5): run the same extraction pipeline over a query image,
// batch its descriptors into the IVF index, accumulate per-image
// scores from the returned Hamming distances, and optionally rerank
// the top candidates with a perceptual-hash comparison.
package search

import "github.com/lolishinshi/imsearch-go/internal/annindex"

// Options controls one search (spec §4.5).
type Options struct {
	K              int   // results to return
	KNN            int   // per-descriptor neighbors fetched from the index
	NProbe         int
	Distance       int32
	EFSearch       int
	ScoreByCount   bool // rank by match count instead of summed weight
	PhashThreshold int  // max phash Hamming distance for rerank; 0 disables rerank
}

func (o Options) annOptions() annindex.SearchOptions {
	return annindex.SearchOptions{
		KNN:      o.KNN,
		NProbe:   o.NProbe,
		Distance: o.Distance,
		EFSearch: o.EFSearch,
	}
}

// Match is one ranked result (spec §4.5 result resolution, §6 wire
// format: { image_id, score, matches, paths }).
type Match struct {
	ImageID int64
	Path    string
	Paths   []string
	Hash    string
	Score   float64
	Count   int
}
