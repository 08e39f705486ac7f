package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lolishinshi/imsearch-go/internal/annindex"
)

func identityResolver(id int64) (int64, bool) { return id, true }

func TestAggregate_WeightedScoreFavorsCloserHits(t *testing.T) {
	hits := [][]annindex.Hit{
		{{ID: 1, Distance: 0}, {ID: 2, Distance: 10}},
	}
	ranked := Aggregate(hits, identityResolver, false, 10)
	if assert.Len(t, ranked, 2) {
		assert.Equal(t, int64(1), ranked[0].ImageID, "distance-0 hit must outrank distance-10")
		assert.Greater(t, ranked[0].Score, ranked[1].Score)
	}
}

func TestAggregate_CountModeIgnoresDistance(t *testing.T) {
	hits := [][]annindex.Hit{
		{{ID: 1, Distance: 20}},
		{{ID: 1, Distance: 20}},
		{{ID: 2, Distance: 0}},
	}
	ranked := Aggregate(hits, identityResolver, true, 10)
	if assert.Len(t, ranked, 2) {
		assert.Equal(t, int64(1), ranked[0].ImageID, "two low-weight hits must still outcount one high-weight hit")
		assert.Equal(t, 2, ranked[0].Count)
	}
}

func TestAggregate_TruncatesToLimit(t *testing.T) {
	hits := [][]annindex.Hit{
		{{ID: 1, Distance: 0}, {ID: 2, Distance: 1}, {ID: 3, Distance: 2}},
	}
	ranked := Aggregate(hits, identityResolver, false, 2)
	assert.Len(t, ranked, 2)
}

func TestAggregate_DropsUnresolvableHits(t *testing.T) {
	resolver := func(id int64) (int64, bool) { return id, id != 1 }
	hits := [][]annindex.Hit{{{ID: 1, Distance: 0}, {ID: 2, Distance: 0}}}
	ranked := Aggregate(hits, resolver, false, 10)
	if assert.Len(t, ranked, 1) {
		assert.Equal(t, int64(2), ranked[0].ImageID, "an id the resolver rejects must not appear in results")
	}
}

func TestAggregate_TiesBreakByImageIDAscending(t *testing.T) {
	hits := [][]annindex.Hit{
		{{ID: 5, Distance: 3}, {ID: 2, Distance: 3}},
	}
	ranked := Aggregate(hits, identityResolver, false, 10)
	if assert.Len(t, ranked, 2) {
		assert.Equal(t, ranked[0].Score, ranked[1].Score)
		assert.Equal(t, int64(2), ranked[0].ImageID, "equal score/count ties must break by image id ascending")
	}
}
