// Package imaging decodes transport-encoded frames into pixel grids and
// computes the grayscale statistics the emotion pipeline runs on.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ErrDecode reports an empty, malformed, or unsupported image payload.
var ErrDecode = errors.New("undecodable image")

// Grid is a decoded frame: 3-channel RGB, row-major, 3 bytes per pixel.
type Grid struct {
	Width  int
	Height int
	Pix    []uint8
}

// Rect is a region in source-image pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Stats holds grayscale intensity statistics for a region.
type Stats struct {
	Mean     float64
	Contrast float64
}

// Decode turns an encoded image buffer into a Grid. It fails with ErrDecode
// when the buffer is empty or not a supported encoding.
func Decode(data []byte) (*Grid, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrDecode, format)
	}

	g := &Grid{Width: w, Height: h, Pix: make([]uint8, w*h*3)}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, gc, b, _ := img.At(x, y).RGBA()
			g.Pix[i] = uint8(r >> 8)
			g.Pix[i+1] = uint8(gc >> 8)
			g.Pix[i+2] = uint8(b >> 8)
			i += 3
		}
	}
	return g, nil
}

// Empty reports whether the grid has no pixels.
func (g *Grid) Empty() bool {
	return g == nil || g.Width <= 0 || g.Height <= 0 || len(g.Pix) == 0
}

// Bounds returns the full-frame rectangle.
func (g *Grid) Bounds() Rect {
	if g == nil {
		return Rect{}
	}
	return Rect{X: 0, Y: 0, Width: g.Width, Height: g.Height}
}

// GrayAt returns the luma value at (x, y). Callers must stay in bounds.
func (g *Grid) GrayAt(x, y int) float64 {
	i := (y*g.Width + x) * 3
	return 0.299*float64(g.Pix[i]) + 0.587*float64(g.Pix[i+1]) + 0.114*float64(g.Pix[i+2])
}

// Gray renders the grid as a row-major grayscale plane.
func (g *Grid) Gray() []uint8 {
	if g.Empty() {
		return nil
	}
	out := make([]uint8, g.Width*g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			out[y*g.Width+x] = uint8(g.GrayAt(x, y) + 0.5)
		}
	}
	return out
}

// Area returns width*height, never negative.
func (r Rect) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Area() == 0
}

// Clamp restricts the rectangle to a w*h frame. The result may be empty.
func (r Rect) Clamp(w, h int) Rect {
	x0 := max(r.X, 0)
	y0 := max(r.Y, 0)
	x1 := min(r.X+r.Width, w)
	y1 := min(r.Y+r.Height, h)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// RegionStats computes grayscale mean and standard deviation over region,
// clamped to the grid. A degenerate region yields zero stats.
func RegionStats(g *Grid, region Rect) Stats {
	if g.Empty() {
		return Stats{}
	}
	r := region.Clamp(g.Width, g.Height)
	if r.Empty() {
		return Stats{}
	}

	var sum, sumSq float64
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			v := g.GrayAt(x, y)
			sum += v
			sumSq += v * v
		}
	}
	n := float64(r.Area())
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stats{Mean: mean, Contrast: math.Sqrt(variance)}
}
