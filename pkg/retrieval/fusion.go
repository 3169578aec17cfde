package retrieval

import "sort"

// fusedCandidate accumulates the rank-fusion state for one passage. At most
// one exists per passage id; across expansions it always holds the maximum
// fused score observed.
type fusedCandidate struct {
	passage Passage
	score   float64
	lexRank int // 1-indexed, 0 if absent from the lexical ranking
	vecRank int // 1-indexed, 0 if absent from the vector ranking
}

func (c fusedCandidate) inBoth() bool {
	return c.lexRank > 0 && c.vecRank > 0
}

// fuseSignals merges one expansion's lexical and vector rankings into fused
// candidates using Reciprocal Rank Fusion: each ranking contributes
// weight/(rank+k), and a passage present in both accumulates the sum.
// The combined set is truncated to the top capPerExpansion by fused score
// to bound memory before the cross-expansion merge.
func fuseSignals(lex []LexicalHit, vec []VectorHit, k int, weights SignalWeights, capPerExpansion int) map[string]fusedCandidate {
	if len(lex) == 0 && len(vec) == 0 {
		return map[string]fusedCandidate{}
	}

	fused := make(map[string]fusedCandidate, len(lex)+len(vec))

	for i, hit := range lex {
		rank := i + 1
		c := fused[hit.PassageID]
		c.passage = hit.Passage
		c.lexRank = rank
		c.score += weights.Lexical / float64(rank+k)
		fused[hit.PassageID] = c
	}

	for i, hit := range vec {
		rank := i + 1
		c, seen := fused[hit.PassageID]
		if !seen {
			c.passage = hit.Passage
		}
		c.vecRank = rank
		c.score += weights.Vector / float64(rank+k)
		fused[hit.PassageID] = c
	}

	if capPerExpansion > 0 && len(fused) > capPerExpansion {
		fused = truncateCandidates(fused, capPerExpansion)
	}

	return fused
}

// truncateCandidates keeps the top n candidates by fused score, with the
// same deterministic ordering used for final results.
func truncateCandidates(fused map[string]fusedCandidate, n int) map[string]fusedCandidate {
	all := make([]fusedCandidate, 0, len(fused))
	for _, c := range fused {
		all = append(all, c)
	}
	sortCandidates(all)

	kept := make(map[string]fusedCandidate, n)
	for _, c := range all[:n] {
		kept[c.passage.PassageID] = c
	}
	return kept
}

// mergeCandidates folds src into dst, keeping the maximum fused score per
// passage id (not the sum, which would inflate passages matching many
// near-duplicate expansions). Rank metadata follows the winning entry.
// The merge is associative and commutative, so the result is independent
// of worker completion order.
func mergeCandidates(dst, src map[string]fusedCandidate) {
	for id, c := range src {
		if prev, ok := dst[id]; ok && prev.score >= c.score {
			continue
		}
		dst[id] = c
	}
}

// sortCandidates orders candidates by fused score with tiebreakers.
// Order: score desc -> present in both signals -> lower lexical rank ->
// lower vector rank -> passage id asc for stability.
func sortCandidates(cands []fusedCandidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]

		if a.score != b.score {
			return a.score > b.score
		}

		if a.inBoth() != b.inBoth() {
			return a.inBoth()
		}

		if a.lexRank != b.lexRank {
			return rankOrMax(a.lexRank) < rankOrMax(b.lexRank)
		}

		if a.vecRank != b.vecRank {
			return rankOrMax(a.vecRank) < rankOrMax(b.vecRank)
		}

		return a.passage.PassageID < b.passage.PassageID
	})
}

// sortScored orders final results by score descending, ties broken by
// passage id ascending for determinism.
func sortScored(scored []ScoredPassage) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].PassageID < scored[j].PassageID
	})
}

func rankOrMax(rank int) int {
	if rank == 0 {
		return maxInt
	}
	return rank
}

const maxInt = 1<<31 - 1
