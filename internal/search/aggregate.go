package search

import (
	"sort"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
)

// accumulator tracks per-image score during aggregation, the same
// map-accumulate-then-sort shape as the teacher's RRF fusion
// (pkg/searcher/fusion.go fusedScore).
type accumulator struct {
	score float64
	count int
}

// weight is the per-hit contribution for Hamming distance d: monotone
// non-increasing, maximal at d=0 (spec §4.5 Open Question decision).
func weight(d int32) float64 {
	return 1 / (1 + float64(d))
}

// Ranked is one image's aggregated score across all matched hits.
type Ranked struct {
	ImageID int64
	Score   float64
	Count   int
}

// Aggregate folds the per-descriptor hits from one or more IVF
// searches into one ranked-by-image list. hits is one slice per query
// descriptor, as returned by annindex.Index.Search (possibly across
// several segments in no-merge mode, already flattened by the caller).
// idToImage takes a hit id (the image id stored with each vector) and
// returns the image id to credit, or false to drop the hit.
func Aggregate(hits [][]annindex.Hit, idToImage func(vectorID int64) (int64, bool), scoreByCount bool, limit int) []Ranked {
	acc := make(map[int64]*accumulator)
	for _, perQuery := range hits {
		for _, h := range perQuery {
			imageID, ok := idToImage(h.ID)
			if !ok {
				continue
			}
			a, exists := acc[imageID]
			if !exists {
				a = &accumulator{}
				acc[imageID] = a
			}
			a.score += weight(h.Distance)
			a.count++
		}
	}

	out := make([]Ranked, 0, len(acc))
	for id, a := range acc {
		out = append(out, Ranked{ImageID: id, Score: a.score, Count: a.count})
	}

	// Ties broken by match count, then by image id ascending (spec
	// §4.5 step 4), so ranking is deterministic regardless of map
	// iteration order (P6: search is idempotent).
	sort.Slice(out, func(i, j int) bool {
		if scoreByCount {
			if out[i].Count != out[j].Count {
				return out[i].Count > out[j].Count
			}
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			return out[i].ImageID < out[j].ImageID
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ImageID < out[j].ImageID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
