package embedding

import "sort"

// MMRCandidate is one item for diversity re-ranking: its relevance score
// and the vector used to measure redundancy against already-picked items.
type MMRCandidate struct {
	Score  float64
	Vector []float32
}

// MMR performs Maximal Marginal Relevance selection: the highest-relevance
// candidate is picked first, then each next pick maximizes
// lambda*relevance - (1-lambda)*maxSimilarityToPicked. Returns the indices
// of the selected candidates, in pick order, min(k, len(items)) of them.
// lambda is clamped to [0, 1].
func MMR(items []MMRCandidate, k int, lambda float64) []int {
	if len(items) == 0 || k <= 0 {
		return nil
	}
	if k > len(items) {
		k = len(items)
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].Score > items[order[b]].Score
	})

	picked := []int{order[0]}
	used := map[int]bool{order[0]: true}

	for len(picked) < k {
		best := -1
		bestVal := -1e18
		for _, idx := range order {
			if used[idx] {
				continue
			}
			maxSim := -1e18
			for _, p := range picked {
				if s := Cosine(items[idx].Vector, items[p].Vector); s > maxSim {
					maxSim = s
				}
			}
			val := lambda*items[idx].Score - (1-lambda)*maxSim
			if val > bestVal {
				bestVal = val
				best = idx
			}
		}
		if best < 0 {
			break
		}
		picked = append(picked, best)
		used[best] = true
	}
	return picked
}
