package emotion

import (
	"math"

	"github.com/user/moodcam/internal/imaging"
)

// Classifier is the two-stage cascade. Classification always succeeds: a
// missing or misbehaving analyzer degrades to the heuristic stage instead of
// failing the request.
type Classifier struct {
	analyzer FaceAnalyzer
}

// NewClassifier builds a cascade over the given analyzer. analyzer may be
// nil, in which case every frame is classified heuristically.
func NewClassifier(analyzer FaceAnalyzer) *Classifier {
	return &Classifier{analyzer: analyzer}
}

// Classify runs the cascade over a frame. face is the region found by the
// capture-time locator, used only by the heuristic stage; the analyzer does
// its own detection.
func (c *Classifier) Classify(g *imaging.Grid, face *imaging.Rect) Result {
	if res, ok := c.analyze(g); ok {
		return res
	}
	return Heuristic(g, face)
}

// analyze runs stage A and normalizes its output: largest face wins, argmax
// emotion becomes the label, score/100 the confidence. ok=false means the
// stage is unusable and the caller falls through.
func (c *Classifier) analyze(g *imaging.Grid) (Result, bool) {
	if c.analyzer == nil || !c.analyzer.Ready() {
		return Result{}, false
	}
	faces, ok := c.analyzer.Analyze(g)
	if !ok || len(faces) == 0 {
		return Result{}, false
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > best.Box.Area() {
			best = f
		}
	}
	if len(best.Scores) == 0 {
		return Result{}, false
	}

	name, score := argmax(best.Scores)
	label, known := Canonical(name)
	if !known {
		label = Neutral
	}

	confidence := score / 100
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	confidence = math.Round(confidence*100) / 100

	return Result{Emotion: label, Confidence: confidence, Source: SourceAnalyzer}, true
}
