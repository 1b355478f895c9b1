// Package facedet locates the most prominent face region in a frame using a
// classical cascade-style sliding-window detector over grayscale.
package facedet

import (
	"math"

	"github.com/user/moodcam/internal/imaging"
)

// State describes detector readiness. An unavailable detector answers every
// Locate call with "no face" instead of erroring.
type State string

const (
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
)

// Detection parameters are fixed: window scales grow by scaleStep, a region
// must be corroborated by at least minNeighbors raw hits, and faces smaller
// than minFaceSize pixels are ignored.
const (
	scaleStep    = 1.2
	minNeighbors = 3
	minFaceSize  = 48
	minWindowDev = 18.0 // reject near-flat windows
	minBandDelta = 12.0 // eye band must be this much darker than cheeks
)

type Detector struct {
	state  State
	reason string
}

// New returns a ready detector. The feature set is built in, so construction
// cannot fail at runtime.
func New() *Detector {
	return &Detector{state: StateReady}
}

// Unavailable returns a detector that reports no faces for every frame.
// Used when face detection is disabled or failed one-time initialization.
func Unavailable(reason string) *Detector {
	return &Detector{state: StateUnavailable, reason: reason}
}

// State returns the readiness state and, when unavailable, the reason.
func (d *Detector) State() (State, string) {
	return d.state, d.reason
}

// Ready reports whether the detector can produce detections.
func (d *Detector) Ready() bool {
	return d.state == StateReady
}

// Locate finds the largest face region in the grid. The second return value
// is false when no region survives filtering, the grid is empty, or the
// detector is unavailable.
func (d *Detector) Locate(g *imaging.Grid) (imaging.Rect, bool) {
	return Largest(d.LocateAll(g))
}

// LocateAll returns every corroborated face region in detector enumeration
// order (scales ascending, then rows, then columns).
func (d *Detector) LocateAll(g *imaging.Grid) []imaging.Rect {
	if !d.Ready() || g.Empty() {
		return nil
	}
	if g.Width < minFaceSize || g.Height < minFaceSize {
		return nil
	}

	ii := newIntegral(g)

	var raw []imaging.Rect
	maxSize := min(g.Width, g.Height)
	for size := minFaceSize; size <= maxSize; size = scaleUp(size) {
		stride := max(4, size/6)
		for y := 0; y+size <= g.Height; y += stride {
			for x := 0; x+size <= g.Width; x += stride {
				if isFaceWindow(ii, x, y, size) {
					raw = append(raw, imaging.Rect{X: x, Y: y, Width: size, Height: size})
				}
			}
		}
	}

	return group(raw)
}

// Largest picks the region with greatest area; ties keep the earlier one.
func Largest(regions []imaging.Rect) (imaging.Rect, bool) {
	if len(regions) == 0 {
		return imaging.Rect{}, false
	}
	best := regions[0]
	for _, r := range regions[1:] {
		if r.Area() > best.Area() {
			best = r
		}
	}
	return best, true
}

func scaleUp(size int) int {
	next := int(math.Ceil(float64(size) * scaleStep))
	if next <= size {
		next = size + 1
	}
	return next
}

// isFaceWindow applies two Haar-like checks: the window must not be flat,
// and the eye band must be darker than the cheek band below it.
func isFaceWindow(ii *integral, x, y, size int) bool {
	mean, dev := ii.stats(x, y, size, size)
	if dev < minWindowDev {
		return false
	}

	colL := x + size/10
	colR := x + size*9/10
	eyeTop := y + size*20/100
	eyeBot := y + size*45/100
	cheekTop := y + size*55/100
	cheekBot := y + size*80/100

	eyeMean := ii.mean(colL, eyeTop, colR-colL, eyeBot-eyeTop)
	cheekMean := ii.mean(colL, cheekTop, colR-colL, cheekBot-cheekTop)
	if cheekMean-eyeMean < minBandDelta {
		return false
	}
	return eyeMean < mean
}

// group clusters raw hits: overlapping windows vote for the same region, and
// a region needs minNeighbors votes to survive.
func group(raw []imaging.Rect) []imaging.Rect {
	type cluster struct {
		sumX, sumY, sumW, sumH int
		count                  int
	}
	var clusters []*cluster

	repr := func(c *cluster) imaging.Rect {
		return imaging.Rect{
			X:      c.sumX / c.count,
			Y:      c.sumY / c.count,
			Width:  c.sumW / c.count,
			Height: c.sumH / c.count,
		}
	}

	for _, r := range raw {
		placed := false
		for _, c := range clusters {
			if overlap(repr(c), r) >= 0.4 {
				c.sumX += r.X
				c.sumY += r.Y
				c.sumW += r.Width
				c.sumH += r.Height
				c.count++
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &cluster{
				sumX: r.X, sumY: r.Y, sumW: r.Width, sumH: r.Height, count: 1,
			})
		}
	}

	var out []imaging.Rect
	for _, c := range clusters {
		if c.count >= minNeighbors {
			out = append(out, repr(c))
		}
	}
	return out
}

// overlap returns intersection-over-union of two rectangles.
func overlap(a, b imaging.Rect) float64 {
	x0 := max(a.X, b.X)
	y0 := max(a.Y, b.Y)
	x1 := min(a.X+a.Width, b.X+b.Width)
	y1 := min(a.Y+a.Height, b.Y+b.Height)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := float64((x1 - x0) * (y1 - y0))
	union := float64(a.Area()+b.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// integral holds summed-area tables for fast window statistics.
type integral struct {
	w, h  int
	sum   []float64
	sumSq []float64
}

func newIntegral(g *imaging.Grid) *integral {
	w, h := g.Width, g.Height
	ii := &integral{
		w:     w,
		h:     h,
		sum:   make([]float64, (w+1)*(h+1)),
		sumSq: make([]float64, (w+1)*(h+1)),
	}
	for y := 0; y < h; y++ {
		var rowSum, rowSumSq float64
		for x := 0; x < w; x++ {
			v := g.GrayAt(x, y)
			rowSum += v
			rowSumSq += v * v
			idx := (y+1)*(w+1) + x + 1
			above := y * (w + 1)
			ii.sum[idx] = ii.sum[above+x+1] + rowSum
			ii.sumSq[idx] = ii.sumSq[above+x+1] + rowSumSq
		}
	}
	return ii
}

func (ii *integral) boxSums(x, y, w, h int) (float64, float64) {
	stride := ii.w + 1
	a := y*stride + x
	b := y*stride + x + w
	c := (y+h)*stride + x
	d := (y+h)*stride + x + w
	return ii.sum[d] - ii.sum[b] - ii.sum[c] + ii.sum[a],
		ii.sumSq[d] - ii.sumSq[b] - ii.sumSq[c] + ii.sumSq[a]
}

func (ii *integral) mean(x, y, w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	s, _ := ii.boxSums(x, y, w, h)
	return s / float64(w*h)
}

func (ii *integral) stats(x, y, w, h int) (mean, dev float64) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	s, sq := ii.boxSums(x, y, w, h)
	n := float64(w * h)
	mean = s / n
	variance := sq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
