// Package emotion classifies frames through a two-stage fallback cascade:
// a model-backed analyzer first, then a deterministic pixel-statistics
// heuristic that is always available.
package emotion

import "strings"

// Label is one of the seven closed-set emotions.
type Label string

const (
	Happy     Label = "Happy"
	Sad       Label = "Sad"
	Neutral   Label = "Neutral"
	Angry     Label = "Angry"
	Surprised Label = "Surprised"
	Fearful   Label = "Fearful"
	Disgusted Label = "Disgusted"
)

// All lists the closed set in canonical order.
var All = []Label{Happy, Sad, Neutral, Angry, Surprised, Fearful, Disgusted}

// Canonical maps a free-form emotion name onto the closed set,
// case-insensitively. ok is false for names outside the set.
func Canonical(name string) (Label, bool) {
	for _, l := range All {
		if strings.EqualFold(name, string(l)) {
			return l, true
		}
	}
	return Neutral, false
}

// Stage names recorded on each capture for observability.
const (
	SourceAnalyzer  = "ml-analyzer"
	SourceHeuristic = "heuristic"
)

// Result is a classification outcome. Confidence is in [0, 1] and Source
// names the cascade stage that produced the label.
type Result struct {
	Emotion    Label
	Confidence float64
	Source     string
}
