// Package similarity compares a presented credential image with the stored
// reference image.
//
// Scores are in [0, 1]; the engine applies the match threshold. Scorers
// never decide a match themselves.
package similarity

import (
	"context"
	"math"
)

// Scorer returns the similarity of two encoded images.
type Scorer interface {
	Compare(ctx context.Context, presented, reference []byte) (float64, error)
}

// normalizeScore clamps cosine-style scores in [-1, 0) to 0 and rejects
// anything outside [-1, 1].
func normalizeScore(name string, score float64) (float64, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < -1 || score > 1 {
		return 0, NewError(ErrorBadData, name, "score out of range", nil)
	}
	if score < 0 {
		return 0, nil
	}
	return score, nil
}

// StaticScorer returns a fixed answer. It backs local runs without an ML
// service and tests.
type StaticScorer struct {
	Score float64
	Err   error
}

func (s StaticScorer) Compare(ctx context.Context, _, _ []byte) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewError(ErrorTimeout, "static", "context done", err)
	}
	if s.Err != nil {
		return 0, s.Err
	}
	return normalizeScore("static", s.Score)
}

var _ Scorer = StaticScorer{}
