package assistant

// Confidence weights. Grounding quality dominates; a candidate the
// model already scoped to the tenant gets a small bump because it
// followed the prompt contract without help.
const (
	baseWeight      = 0.3
	retrievalWeight = 0.6
	cleanBonus      = 0.1
)

// Score blends the top retrieval similarity with the rewrite outcome
// into a single confidence in [0,1]. Pure function, no hidden state.
func Score(topSimilarity float64, rewritten bool) float64 {
	c := baseWeight + retrievalWeight*clamp01(topSimilarity)
	if !rewritten {
		c += cleanBonus
	}
	return clamp01(c)
}

// MaxConfidence returns the higher of two scores, bounded to [0,1].
func MaxConfidence(a, b float64) float64 {
	if b > a {
		a = b
	}
	return clamp01(a)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
