package postprocess

import "github.com/nvr-ai/go-detect/images"

// Candidate is one raw prediction from a single anchor, before thresholding and suppression.
type Candidate struct {
	// Box in tensor coordinates.
	Box images.Rect
	// Objectness is the anchor's object confidence; 1 for heads that do not emit one.
	Objectness float32
	// ClassScores holds one score per class.
	ClassScores []float32
}

// BestClass returns the argmax class and its combined score (objectness times class score).
//
// Ties resolve to the lowest class index. A candidate without class scores reports class 0 with
// the bare objectness.
func (c Candidate) BestClass() (int, float32) {
	if len(c.ClassScores) == 0 {
		return 0, c.Objectness
	}

	best := 0
	bestScore := c.ClassScores[0]
	for i := 1; i < len(c.ClassScores); i++ {
		if c.ClassScores[i] > bestScore {
			best = i
			bestScore = c.ClassScores[i]
		}
	}

	return best, c.Objectness * bestScore
}
