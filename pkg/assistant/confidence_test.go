package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_Bounds(t *testing.T) {
	for _, sim := range []float64{-1, 0, 0.25, 0.5, 0.99, 1, 2} {
		for _, rewritten := range []bool{true, false} {
			got := Score(sim, rewritten)
			assert.GreaterOrEqual(t, got, 0.0, "sim=%v rewritten=%v", sim, rewritten)
			assert.LessOrEqual(t, got, 1.0, "sim=%v rewritten=%v", sim, rewritten)
		}
	}
}

func TestScore_MonotonicInSimilarity(t *testing.T) {
	assert.Greater(t, Score(0.9, true), Score(0.1, true))
	assert.Greater(t, Score(0.9, false), Score(0.9, true),
		"self-scoped candidate outranks one that needed the rewriter")
}

func TestScore_NoRetrieval(t *testing.T) {
	assert.Equal(t, baseWeight, Score(0, true))
}

func TestMaxConfidence(t *testing.T) {
	assert.Equal(t, 0.8, MaxConfidence(0.3, 0.8))
	assert.Equal(t, 0.8, MaxConfidence(0.8, 0.3))
	assert.Equal(t, 1.0, MaxConfidence(0.5, 7))
	assert.Equal(t, 0.0, MaxConfidence(-2, -1))
}
