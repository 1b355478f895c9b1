package emotion

import "github.com/user/moodcam/internal/imaging"

// Heuristic classifies a frame from grayscale intensity statistics alone.
// It operates on the face region when one is given and non-empty after
// clamping, otherwise on the full frame. The thresholds are ordered; the
// first match wins. All comparisons are strict.
func Heuristic(g *imaging.Grid, face *imaging.Rect) Result {
	if g.Empty() {
		return Result{Emotion: Neutral, Confidence: 0.0, Source: SourceHeuristic}
	}

	region := g.Bounds()
	if face != nil {
		if clamped := face.Clamp(g.Width, g.Height); !clamped.Empty() {
			region = clamped
		}
	}

	s := imaging.RegionStats(g, region)

	var out Result
	switch {
	case s.Mean > 165 && s.Contrast > 58:
		out = Result{Emotion: Surprised, Confidence: 0.64}
	case s.Mean > 145 && s.Contrast > 40:
		out = Result{Emotion: Happy, Confidence: 0.62}
	case s.Mean < 90 && s.Contrast < 35:
		out = Result{Emotion: Sad, Confidence: 0.60}
	case s.Contrast > 62:
		out = Result{Emotion: Angry, Confidence: 0.58}
	default:
		out = Result{Emotion: Neutral, Confidence: 0.57}
	}
	out.Source = SourceHeuristic
	return out
}
