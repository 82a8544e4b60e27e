package stages

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/asteroid.report/internal/astro"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

// madScale converts a median absolute deviation to a Gaussian sigma.
const madScale = 1.4826

// Calibration subtracts the sky background and attaches a linear WCS
// centred on the commanded pointing.
type Calibration struct {
	pixelScale float64 // fallback when PIXSCALE is absent
}

// NewCalibration returns the calibration stage.
func NewCalibration(pixelScale float64) *Calibration {
	return &Calibration{pixelScale: pixelScale}
}

func (*Calibration) Name() string { return NameCalibration }

func (c *Calibration) Process(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageContext, error) {
	if sc.Raw == nil {
		return nil, pipeline.ErrNoImage
	}
	ra, okRA := sc.Header.Float("RA_PNT")
	dec, okDec := sc.Header.Float("DEC_PNT")
	if !okRA || !okDec {
		return nil, ErrNoPointing
	}
	scale, ok := sc.Header.Float("PIXSCALE")
	if !ok || scale <= 0 {
		scale = c.pixelScale
	}

	rows, cols := sc.Raw.Dims()
	background, noise := robustStats(sc.Raw.RawMatrix().Data)
	if math.IsNaN(background) {
		return nil, fmt.Errorf("background estimate failed")
	}

	calibrated := mat.NewDense(rows, cols, nil)
	calibrated.Apply(func(_, _ int, v float64) float64 { return v - background }, sc.Raw)

	wcs := astro.WCS{
		CRPIX1: float64(cols) / 2,
		CRPIX2: float64(rows) / 2,
		CRVAL1: astro.NormalizeRA(ra),
		CRVAL2: dec,
		CDELT1: -scale,
		CDELT2: scale,
	}

	out := sc.Clone()
	out.Calibrated = calibrated
	out.Image = calibrated
	out.Calibration = &astro.Calibration{
		WCS:        wcs,
		Background: background,
		Noise:      noise,
		Method:     "pointing",
	}
	h := &out.Header
	h.Set("CTYPE1", "RA---TAN")
	h.Set("CTYPE2", "DEC--TAN")
	h.Set("CRPIX1", wcs.CRPIX1)
	h.Set("CRPIX2", wcs.CRPIX2)
	h.Set("CRVAL1", wcs.CRVAL1, "[deg]")
	h.Set("CRVAL2", wcs.CRVAL2, "[deg]")
	h.Set("CDELT1", wcs.CDELT1, "[deg/pixel]")
	h.Set("CDELT2", wcs.CDELT2, "[deg/pixel]")
	h.Set("PC1_1", 1.0)
	h.Set("PC1_2", 0.0)
	h.Set("PC2_1", 0.0)
	h.Set("PC2_2", 1.0)
	h.Set("BKGLEVEL", background, "median sky level")
	h.Set("BKGNOISE", noise, "robust sky sigma")
	h.Set("CALIB", "POINTING", "WCS from commanded pointing")

	tracef("%s calibrated: background=%.2f noise=%.2f crval=(%.5f, %.5f)", sc.Frame.ID, background, noise, wcs.CRVAL1, wcs.CRVAL2)
	return out, ctx.Err()
}

// robustStats returns the median and MAD-derived sigma of data.
func robustStats(data []float64) (median, sigma float64) {
	sorted := slices.Clone(data)
	slices.Sort(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - median)
	}
	slices.Sort(dev)
	sigma = madScale * stat.Quantile(0.5, stat.Empirical, dev, nil)
	return median, sigma
}
