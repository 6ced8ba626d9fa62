package plot

import (
	"errors"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestNiceStep(t *testing.T) {
	tests := []struct {
		span float64
		n    int
		want float64
	}{
		{10, 5, 2},
		{1, 6, 0.2},
		{75, 6, 20},
		{0.5, 5, 0.1},
		{0, 6, 1},
	}
	for _, tc := range tests {
		if got := NiceStep(tc.span, tc.n); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("NiceStep(%v,%d)=%v want %v", tc.span, tc.n, got, tc.want)
		}
	}
}

func TestRenderDrawsSeries(t *testing.T) {
	red := color.RGBA{255, 0, 0, 255}
	c := Chart{
		Title:  "power vs position",
		XLabel: "Input Power (dBm)",
		YLabel: "Position (um)",
		Series: []Series{{X: []float64{0, 1, 2}, Y: []float64{0, 1, 2}, Style: Line, Color: red}},
		Width:  400,
		Height: 300,
	}
	img, err := c.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 400 || b.Dy() != 300 {
		t.Fatalf("bounds %v", b)
	}
	cv := &canvas{img: img, area: img.Bounds()}
	cv.xa, cv.ya, _ = c.ranges()
	cv.area.Min.X, cv.area.Min.Y = marginLeft, marginTop
	cv.area.Max.X, cv.area.Max.Y = 400-marginRight, 300-marginBottom
	x, y := cv.px(1), cv.py(1)
	if got := img.RGBAAt(x, y); got != red {
		t.Fatalf("midpoint pixel %v, want the series colour", got)
	}
	if got := img.RGBAAt(2, 2); got != background {
		t.Fatalf("corner pixel %v, want background", got)
	}
}

func TestRenderStyles(t *testing.T) {
	c := Chart{
		YRange: &[2]float64{0, 1},
		Series: []Series{
			{Label: "bars", X: []float64{1, 2, 3}, Y: []float64{0.5, 0.4, math.NaN()}, Style: Bars},
			{Label: "measured", X: []float64{1, 2}, Y: []float64{0.2, 0.3}, Style: Circles},
			{Label: "predicted", X: []float64{1, 2}, Y: []float64{0.2, 0.3}, Style: Crosses},
			{Label: "mean", X: []float64{1, 2}, Y: []float64{0.6, 0.7}, Err: []float64{0.1, 5}},
		},
	}
	if _, err := c.Render(); err != nil {
		t.Fatalf("render: %v", err)
	}
}

func TestRenderWithoutData(t *testing.T) {
	c := Chart{Series: []Series{{X: []float64{math.NaN()}, Y: []float64{1}}}}
	if _, err := c.Render(); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	c = Chart{Series: []Series{{X: []float64{1}, Y: []float64{1}}}, Width: 50, Height: 50}
	if _, err := c.Render(); err == nil {
		t.Fatalf("expected a size error")
	}
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.png")
	c := Chart{Series: []Series{{X: []float64{1, 2, 3}, Y: []float64{5, 5, 5}}}}
	if err := c.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != defaultWidth || img.Bounds().Dy() != defaultHeight {
		t.Fatalf("size %v", img.Bounds())
	}
}
