package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func uniformImage(w, h int, v uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatalf("Decode(nil) error = nil, want ErrDecode")
	}
	if _, err := Decode([]byte{}); err == nil {
		t.Fatalf("Decode(empty) error = nil, want ErrDecode")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	if err == nil {
		t.Fatalf("Decode(garbage) error = nil, want ErrDecode")
	}
}

func TestDecodePNG(t *testing.T) {
	data := encodePNG(t, uniformImage(4, 3, 200))
	g, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if g.Width != 4 || g.Height != 3 {
		t.Fatalf("dimensions = %dx%d, want 4x3", g.Width, g.Height)
	}
	if got := g.GrayAt(2, 1); got != 200 {
		t.Fatalf("GrayAt(2,1) = %v, want 200", got)
	}
}

func TestDecodeStableAcrossReencode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 40), B: 77, A: 255})
		}
	}
	first, err := Decode(encodePNG(t, img))
	if err != nil {
		t.Fatalf("first Decode() error = %v", err)
	}

	// Re-encode the decoded grid losslessly and decode again.
	round := image.NewRGBA(image.Rect(0, 0, first.Width, first.Height))
	i := 0
	for y := 0; y < first.Height; y++ {
		for x := 0; x < first.Width; x++ {
			round.Set(x, y, color.RGBA{R: first.Pix[i], G: first.Pix[i+1], B: first.Pix[i+2], A: 255})
			i += 3
		}
	}
	second, err := Decode(encodePNG(t, round))
	if err != nil {
		t.Fatalf("second Decode() error = %v", err)
	}
	if !bytes.Equal(first.Pix, second.Pix) {
		t.Fatalf("decoded pixels changed across re-encode")
	}
}

func TestRegionStatsUniform(t *testing.T) {
	g, err := Decode(encodePNG(t, uniformImage(10, 10, 100)))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	s := RegionStats(g, g.Bounds())
	if s.Mean != 100 {
		t.Fatalf("Mean = %v, want 100", s.Mean)
	}
	if s.Contrast != 0 {
		t.Fatalf("Contrast = %v, want 0", s.Contrast)
	}
}

func TestRegionStatsHalfAndHalf(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		v := uint8(100)
		if y >= 5 {
			v = 230
		}
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	g, err := Decode(encodePNG(t, img))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	s := RegionStats(g, g.Bounds())
	if s.Mean != 165 {
		t.Fatalf("Mean = %v, want 165", s.Mean)
	}
	if s.Contrast != 65 {
		t.Fatalf("Contrast = %v, want 65", s.Contrast)
	}
}

func TestRegionStatsDegenerate(t *testing.T) {
	g, err := Decode(encodePNG(t, uniformImage(10, 10, 50)))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if s := RegionStats(g, Rect{X: 20, Y: 20, Width: 5, Height: 5}); s != (Stats{}) {
		t.Fatalf("out-of-bounds region stats = %+v, want zero", s)
	}
	if s := RegionStats(&Grid{}, Rect{Width: 5, Height: 5}); s != (Stats{}) {
		t.Fatalf("empty grid stats = %+v, want zero", s)
	}
}

func TestRectClamp(t *testing.T) {
	r := Rect{X: -10, Y: 5, Width: 30, Height: 30}
	got := r.Clamp(20, 20)
	want := Rect{X: 0, Y: 5, Width: 20, Height: 15}
	if got != want {
		t.Fatalf("Clamp = %+v, want %+v", got, want)
	}

	if got := (Rect{X: 25, Y: 0, Width: 10, Height: 10}).Clamp(20, 20); !got.Empty() {
		t.Fatalf("fully outside rect clamps to %+v, want empty", got)
	}
}
