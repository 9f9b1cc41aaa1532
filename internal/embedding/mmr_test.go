package embedding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMMRPicksTopRelevanceFirst(t *testing.T) {
	items := []MMRCandidate{
		{Score: 0.2, Vector: []float32{1, 0}},
		{Score: 0.9, Vector: []float32{0, 1}},
		{Score: 0.5, Vector: []float32{1, 1}},
	}
	picked := MMR(items, 2, 0.75)
	require.NotEmpty(t, picked)
	require.Equal(t, 1, picked[0], "highest-relevance candidate must come first")
}

func TestMMRReturnsKDistinct(t *testing.T) {
	items := make([]MMRCandidate, 10)
	for i := range items {
		items[i] = MMRCandidate{Score: float64(i) / 10, Vector: []float32{float32(i), 1}}
	}
	picked := MMR(items, 4, 0.5)
	require.Len(t, picked, 4)
	seen := make(map[int]bool)
	for _, idx := range picked {
		require.False(t, seen[idx], "index %d picked twice", idx)
		seen[idx] = true
	}
}

func TestMMRPrefersNovelty(t *testing.T) {
	// Two near-duplicates of the top item plus one orthogonal item: with
	// lambda favoring diversity the orthogonal item must beat the clone.
	items := []MMRCandidate{
		{Score: 1.0, Vector: []float32{1, 0}},
		{Score: 0.99, Vector: []float32{1, 0.01}},
		{Score: 0.5, Vector: []float32{0, 1}},
	}
	picked := MMR(items, 2, 0.3)
	require.Equal(t, []int{0, 2}, picked)
}

func TestMMRClampsK(t *testing.T) {
	items := []MMRCandidate{{Score: 1, Vector: []float32{1}}}
	require.Len(t, MMR(items, 5, 0.75), 1)
	require.Nil(t, MMR(nil, 3, 0.75))
	require.Nil(t, MMR(items, 0, 0.75))
}
