// Package render draws pipeline frames as PNG images for transport.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/asteroid.report/internal/frames"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

// dpi is the resolution vgimg uses for PNG output.
const dpi = 96

// Renderer draws the working image as a heat map with detections
// circled.
type Renderer struct {
	size vg.Length
}

// New returns a renderer producing square images of px pixels.
func New(px int) *Renderer {
	return &Renderer{size: vg.Length(px) * vg.Inch / dpi}
}

// imageGrid adapts a matrix to plotter.GridXYZ. Non-finite pixels are
// drawn as fill.
type imageGrid struct {
	m    *mat.Dense
	fill float64
}

func (g imageGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}
func (g imageGrid) Z(c, r int) float64 {
	v := g.m.At(r, c)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return g.fill
	}
	return v
}
func (g imageGrid) X(c int) float64 { return float64(c) }
func (g imageGrid) Y(r int) float64 { return float64(r) }

// Render returns PNG bytes. The calibrated image is preferred; a failed
// traversal falls back to the raw frame.
func (r *Renderer) Render(f *frames.Frame, sc *pipeline.StageContext) ([]byte, error) {
	var img *mat.Dense
	if sc != nil && sc.Image != nil {
		img = sc.Image
	} else {
		if err := f.Pixels.Validate(); err != nil {
			return nil, err
		}
		img = mat.NewDense(f.Pixels.Height, f.Pixels.Width, slices.Clone(f.Pixels.Pixels))
	}

	p := plot.New()
	p.Title.Text = f.ID
	p.HideAxes()

	lo, hi := stretch(img)
	if hi <= lo {
		hi = lo + 1
	}
	hm := plotter.NewHeatMap(imageGrid{m: img, fill: lo}, palette.Heat(64, 1))
	hm.Min, hm.Max = lo, hi
	hm.Underflow = hm.Palette.Colors()[0]
	hm.Overflow = hm.Palette.Colors()[len(hm.Palette.Colors())-1]
	p.Add(hm)

	if sc != nil && len(sc.Detections) > 0 {
		pts := make(plotter.XYs, len(sc.Detections))
		for i, d := range sc.Detections {
			pts[i] = plotter.XY{X: d.X, Y: d.Y}
		}
		marks, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("detection overlay: %w", err)
		}
		marks.GlyphStyle.Shape = draw.RingGlyph{}
		marks.GlyphStyle.Radius = vg.Points(6)
		marks.GlyphStyle.Color = color.RGBA{G: 255, B: 128, A: 255}
		p.Add(marks)
	}

	wt, err := p.WriterTo(r.size, r.size, "png")
	if err != nil {
		return nil, fmt.Errorf("png canvas: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// stretch returns display limits clipping the faintest 1% and brightest
// 0.5% of the finite pixels. An image with no finite pixel gets [0, 1].
func stretch(m *mat.Dense) (lo, hi float64) {
	rows, cols := m.Dims()
	vals := make([]float64, 0, rows*cols)
	for y := 0; y < rows; y++ {
		for _, v := range m.RawRowView(y) {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				vals = append(vals, v)
			}
		}
	}
	if len(vals) == 0 {
		return 0, 1
	}
	slices.Sort(vals)
	return stat.Quantile(0.01, stat.Empirical, vals, nil), stat.Quantile(0.995, stat.Empirical, vals, nil)
}
