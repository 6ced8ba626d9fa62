// Package plot renders the report charts as PNG images: line, marker, error
// bar and bar plots on a labelled grid.
package plot

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/floats"
)

// ErrNoData is returned when a chart has no finite point to draw.
var ErrNoData = errors.New("nothing to plot")

// Style selects how a series is drawn.
type Style int

const (
	Line Style = iota
	// Circles marks every point with a small ring, like matplotlib "bo".
	Circles
	// Crosses marks every point with a plus, like matplotlib "r+".
	Crosses
	Bars
)

// Series is one data set of a chart. Err, when set, holds the half height
// of an error bar per point.
type Series struct {
	Label string
	X, Y  []float64
	Err   []float64
	Style Style
	// Color defaults to the next palette entry.
	Color color.Color
}

// Chart describes one figure.
type Chart struct {
	Title  string
	XLabel string
	YLabel string
	Series []Series
	// YRange, when set, fixes the y axis instead of fitting the data.
	YRange *[2]float64
	Width  int
	Height int
}

const (
	defaultWidth  = 800
	defaultHeight = 560
	marginLeft    = 80
	marginRight   = 24
	marginTop     = 48
	marginBottom  = 56
	tickLen       = 5
	markerSize    = 3
	targetTicks   = 6
)

var (
	background = color.RGBA{255, 255, 255, 255}
	axisColor  = color.RGBA{0, 0, 0, 255}
	gridColor  = color.RGBA{220, 220, 220, 255}
	palette    = []color.RGBA{
		{31, 119, 180, 255},
		{214, 39, 40, 255},
		{44, 160, 44, 255},
		{255, 127, 14, 255},
		{148, 103, 189, 255},
		{23, 190, 207, 255},
		{140, 86, 75, 255},
	}
)

// PaletteColor returns the i-th default series colour.
func PaletteColor(i int) color.RGBA { return palette[i%len(palette)] }

type axis struct{ min, max float64 }

func (a axis) span() float64 { return a.max - a.min }

// fit returns an axis covering vals with a small margin.
func fit(vals []float64) axis {
	lo, hi := floats.Min(vals), floats.Max(vals)
	if lo == hi {
		d := math.Max(math.Abs(lo)*0.1, 1)
		return axis{lo - d, hi + d}
	}
	pad := (hi - lo) * 0.05
	return axis{lo - pad, hi + pad}
}

func finite(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// ranges returns the x and y axes covering every series.
func (c *Chart) ranges() (axis, axis, error) {
	var xs, ys []float64
	for _, s := range c.Series {
		n := min(len(s.X), len(s.Y))
		for i := 0; i < n; i++ {
			x, y := s.X[i], s.Y[i]
			if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
				continue
			}
			xs = append(xs, x)
			ys = append(ys, y)
			if i < len(s.Err) {
				ys = append(ys, y-s.Err[i], y+s.Err[i])
			}
			if s.Style == Bars {
				ys = append(ys, 0)
			}
		}
	}
	xs, ys = finite(xs), finite(ys)
	if len(xs) == 0 {
		return axis{}, axis{}, ErrNoData
	}
	xa, ya := fit(xs), fit(ys)
	if c.YRange != nil && c.YRange[1] > c.YRange[0] {
		ya = axis{c.YRange[0], c.YRange[1]}
	}
	return xa, ya, nil
}

// NiceStep returns a tick spacing of 1, 2 or 5 times a power of ten giving
// about n ticks over span.
func NiceStep(span float64, n int) float64 {
	if span <= 0 || n < 1 {
		return 1
	}
	raw := span / float64(n)
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	switch f := raw / mag; {
	case f <= 1:
		return mag
	case f <= 2:
		return 2 * mag
	case f <= 5:
		return 5 * mag
	default:
		return 10 * mag
	}
}

func ticks(a axis) []float64 {
	step := NiceStep(a.span(), targetTicks)
	var out []float64
	for v := math.Ceil(a.min/step) * step; v <= a.max+step*1e-9; v += step {
		if math.Abs(v) < step*1e-9 {
			v = 0
		}
		out = append(out, v)
	}
	return out
}

func label(v float64) string { return strconv.FormatFloat(v, 'g', 4, 64) }

type canvas struct {
	img    *image.RGBA
	area   image.Rectangle
	xa, ya axis
}

func (cv *canvas) px(x float64) int {
	return cv.area.Min.X + int(math.Round((x-cv.xa.min)/cv.xa.span()*float64(cv.area.Dx())))
}

func (cv *canvas) py(y float64) int {
	return cv.area.Max.Y - int(math.Round((y-cv.ya.min)/cv.ya.span()*float64(cv.area.Dy())))
}

// set colours a pixel inside the plot area only.
func (cv *canvas) set(x, y int, c color.Color) {
	if (image.Point{x, y}).In(cv.area.Inset(-1)) {
		cv.img.Set(x, y, c)
	}
}

func (cv *canvas) line(x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		cv.set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (cv *canvas) text(x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  cv.img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
	}
	d.DrawString(s)
}

func textWidth(s string) int { return font.MeasureString(basicfont.Face7x13, s).Ceil() }

func (cv *canvas) frame(c *Chart) {
	for _, t := range ticks(cv.xa) {
		x := cv.px(t)
		cv.line(x, cv.area.Min.Y, x, cv.area.Max.Y, gridColor)
		for i := 0; i < tickLen; i++ {
			cv.img.Set(x, cv.area.Max.Y+i, axisColor)
		}
		s := label(t)
		cv.text(x-textWidth(s)/2, cv.area.Max.Y+tickLen+13, s, axisColor)
	}
	for _, t := range ticks(cv.ya) {
		y := cv.py(t)
		cv.line(cv.area.Min.X, y, cv.area.Max.X, y, gridColor)
		for i := 0; i < tickLen; i++ {
			cv.img.Set(cv.area.Min.X-i, y, axisColor)
		}
		s := label(t)
		cv.text(cv.area.Min.X-tickLen-2-textWidth(s), y+4, s, axisColor)
	}
	r := cv.area
	cv.line(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y, axisColor)
	cv.line(r.Min.X, r.Max.Y, r.Max.X, r.Max.Y, axisColor)
	cv.line(r.Min.X, r.Min.Y, r.Min.X, r.Max.Y, axisColor)
	cv.line(r.Max.X, r.Min.Y, r.Max.X, r.Max.Y, axisColor)

	b := cv.img.Bounds()
	if c.Title != "" {
		cv.text((b.Dx()-textWidth(c.Title))/2, 20, c.Title, axisColor)
	}
	if c.XLabel != "" {
		cv.text(r.Min.X+(r.Dx()-textWidth(c.XLabel))/2, b.Max.Y-8, c.XLabel, axisColor)
	}
	if c.YLabel != "" {
		cv.text(8, marginTop-10, c.YLabel, axisColor)
	}
}

func (cv *canvas) marker(x, y int, st Style, c color.Color) {
	switch st {
	case Crosses:
		cv.line(x-markerSize, y, x+markerSize, y, c)
		cv.line(x, y-markerSize, x, y+markerSize, c)
	default:
		cv.line(x-markerSize, y-markerSize, x+markerSize, y-markerSize, c)
		cv.line(x-markerSize, y+markerSize, x+markerSize, y+markerSize, c)
		cv.line(x-markerSize, y-markerSize, x-markerSize, y+markerSize, c)
		cv.line(x+markerSize, y-markerSize, x+markerSize, y+markerSize, c)
	}
}

func (cv *canvas) barWidth(s Series) int {
	w := cv.area.Dx() / max(2*len(s.X), 1)
	if len(s.X) > 1 {
		step := math.Abs(float64(cv.px(s.X[1]) - cv.px(s.X[0])))
		w = int(step * 0.8 / 2)
	}
	return max(w, 1)
}

func (cv *canvas) series(s Series, c color.Color) {
	n := min(len(s.X), len(s.Y))
	prevOK := false
	var px0, py0 int
	half := cv.barWidth(s)
	for i := 0; i < n; i++ {
		x, y := s.X[i], s.Y[i]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			prevOK = false
			continue
		}
		px, py := cv.px(x), cv.py(y)
		switch s.Style {
		case Line:
			if prevOK {
				cv.line(px0, py0, px, py, c)
			} else {
				cv.set(px, py, c)
			}
		case Bars:
			y0 := cv.py(math.Max(cv.ya.min, math.Min(0, cv.ya.max)))
			draw.Draw(cv.img, image.Rect(px-half, min(py, y0), px+half+1, max(py, y0)+1).Intersect(cv.area), image.NewUniform(c), image.Point{}, draw.Src)
		default:
			cv.marker(px, py, s.Style, c)
		}
		if i < len(s.Err) && s.Err[i] > 0 {
			lo, hi := cv.py(y-s.Err[i]), cv.py(y+s.Err[i])
			cv.line(px, lo, px, hi, c)
			cv.line(px-markerSize, lo, px+markerSize, lo, c)
			cv.line(px-markerSize, hi, px+markerSize, hi, c)
		}
		px0, py0, prevOK = px, py, true
	}
}

func (cv *canvas) legend(c *Chart) {
	y := cv.area.Min.Y + 16
	for i, s := range c.Series {
		if s.Label == "" {
			continue
		}
		col := seriesColor(s, i)
		x := cv.area.Max.X - textWidth(s.Label) - 30
		cv.line(x, y-4, x+16, y-4, col)
		cv.line(x, y-5, x+16, y-5, col)
		cv.text(x+22, y, s.Label, axisColor)
		y += 15
	}
}

func seriesColor(s Series, i int) color.Color {
	if s.Color != nil {
		return s.Color
	}
	return PaletteColor(i)
}

// Render draws the chart.
func (c *Chart) Render() (*image.RGBA, error) {
	xa, ya, err := c.ranges()
	if err != nil {
		return nil, err
	}
	w, h := c.Width, c.Height
	if w <= 0 {
		w = defaultWidth
	}
	if h <= 0 {
		h = defaultHeight
	}
	if w <= marginLeft+marginRight || h <= marginTop+marginBottom {
		return nil, fmt.Errorf("chart size %dx%d too small", w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)
	cv := &canvas{
		img:  img,
		area: image.Rect(marginLeft, marginTop, w-marginRight, h-marginBottom),
		xa:   xa,
		ya:   ya,
	}
	cv.frame(c)
	for i, s := range c.Series {
		cv.series(s, seriesColor(s, i))
	}
	cv.legend(c)
	return img, nil
}

// Save renders the chart and writes it to path as PNG.
func (c *Chart) Save(path string) error {
	img, err := c.Render()
	if err != nil {
		return fmt.Errorf("plot %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
