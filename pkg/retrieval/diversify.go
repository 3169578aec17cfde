package retrieval

// Diversify enforces the per-thread cap and the final result budget on a
// sequence already sorted best-first. A single forward pass: a passage is
// admitted only while its thread's running count is below maxPerThread, and
// the walk stops as soon as finalBudget passages are admitted. Later,
// lower-score candidates are discarded, not deferred.
func Diversify(scored []ScoredPassage, maxPerThread, finalBudget int) RetrievalResult {
	if maxPerThread <= 0 {
		maxPerThread = 1
	}

	result := make(RetrievalResult, 0, finalBudget)
	perThread := make(map[string]int)

	for _, sp := range scored {
		if finalBudget > 0 && len(result) >= finalBudget {
			break
		}
		if perThread[sp.ThreadID] >= maxPerThread {
			continue
		}
		perThread[sp.ThreadID]++
		result = append(result, sp)
	}

	return result
}
