package emotion

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/user/moodcam/internal/facedet"
	"github.com/user/moodcam/internal/imaging"
	"github.com/user/moodcam/internal/logger"
)

// State describes analyzer readiness. The analyzer is constructed once at
// process start and handed to the cascade by reference; it is never looked
// up from global state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateUnavailable   State = "unavailable"
)

// FaceScores is the canonical analyzer output: one score vector per detected
// face, each score in [0, 100] keyed by the model's emotion name.
type FaceScores struct {
	Box    imaging.Rect
	Scores map[string]float64
}

// FaceAnalyzer is the capability the cascade consumes. Analyze reports
// ok=false when the stage is unusable for any reason; it never errors out.
type FaceAnalyzer interface {
	Ready() bool
	Analyze(g *imaging.Grid) ([]FaceScores, bool)
}

const featureCount = 5 // mean, contrast, high ratio, low ratio, bias

// modelFile is the on-disk shape of the analyzer weights.
type modelFile struct {
	Emotions map[string][]float64 `yaml:"emotions"`
}

// Analyzer scores faces with per-emotion weight vectors loaded from a model
// file. It runs its own face detector, independent of the locator used for
// capture metadata, and does not require a face to be present: zero detected
// faces simply yields zero score vectors.
type Analyzer struct {
	mu       sync.RWMutex
	state    State
	reason   string
	weights  map[string][]float64
	detector *facedet.Detector
	path     string
	log      logger.Logger
}

// NewAnalyzer loads the model at path. A missing or malformed model leaves
// the analyzer in the unavailable state rather than failing startup.
func NewAnalyzer(path string, log logger.Logger) *Analyzer {
	a := &Analyzer{
		state:    StateUninitialized,
		detector: facedet.New(),
		path:     path,
		log:      log,
	}
	a.Reload()
	return a
}

// Reload re-reads the model file. On failure the analyzer flips to
// unavailable and the cascade degrades to the heuristic stage.
func (a *Analyzer) Reload() {
	weights, err := loadModel(a.path)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.state = StateUnavailable
		a.reason = err.Error()
		a.weights = nil
		a.log.Warn("emotion model unavailable", "path", a.path, "reason", err)
		return
	}
	a.state = StateReady
	a.reason = ""
	a.weights = weights
	a.log.Info("emotion model loaded", "path", a.path, "emotions", len(weights))
}

func loadModel(path string) (map[string][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var mf modelFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(mf.Emotions) == 0 {
		return nil, fmt.Errorf("model %s defines no emotions", path)
	}
	for name, vec := range mf.Emotions {
		if len(vec) != featureCount {
			return nil, fmt.Errorf("emotion %q has %d weights, want %d", name, len(vec), featureCount)
		}
	}
	return mf.Emotions, nil
}

// State returns the readiness state and, when unavailable, the reason.
func (a *Analyzer) State() (State, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state, a.reason
}

// Ready reports whether the analyzer can score frames.
func (a *Analyzer) Ready() bool {
	s, _ := a.State()
	return s == StateReady
}

// Analyze detects faces and scores each one. ok is false when the analyzer
// is not ready or scoring fails internally; the caller falls through to the
// heuristic stage in that case.
func (a *Analyzer) Analyze(g *imaging.Grid) (out []FaceScores, ok bool) {
	// Model inference failures must never surface as request failures.
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("analyzer stage recovered", "panic", r)
			out, ok = nil, false
		}
	}()

	a.mu.RLock()
	weights := a.weights
	ready := a.state == StateReady
	a.mu.RUnlock()
	if !ready || g.Empty() {
		return nil, false
	}

	faces := a.detector.LocateAll(g)
	out = make([]FaceScores, 0, len(faces))
	for _, box := range faces {
		out = append(out, FaceScores{Box: box, Scores: scoreRegion(g, box, weights)})
	}
	return out, true
}

// scoreRegion computes the handcrafted feature vector over a face region and
// maps each emotion's weighted sum onto [0, 100].
func scoreRegion(g *imaging.Grid, box imaging.Rect, weights map[string][]float64) map[string]float64 {
	r := box.Clamp(g.Width, g.Height)
	stats := imaging.RegionStats(g, r)

	var high, low, n float64
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			v := g.GrayAt(x, y)
			if v > 200 {
				high++
			}
			if v < 60 {
				low++
			}
			n++
		}
	}
	if n == 0 {
		n = 1
	}

	features := [featureCount]float64{
		stats.Mean / 255,
		stats.Contrast / 255,
		high / n,
		low / n,
		1.0,
	}

	scores := make(map[string]float64, len(weights))
	for name, vec := range weights {
		var dot float64
		for i, w := range vec {
			dot += w * features[i]
		}
		score := 50 + 25*dot
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		scores[name] = score
	}
	return scores
}

// argmax picks the highest-scoring emotion name. Ties keep the first name in
// sorted order so the outcome is deterministic across runs.
func argmax(scores map[string]float64) (string, float64) {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	var bestName string
	best := 0.0
	for _, name := range names {
		if bestName == "" || scores[name] > best {
			bestName = name
			best = scores[name]
		}
	}
	return bestName, best
}
