package stages

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/asteroid.report/internal/astro"
	"github.com/banshee-data/asteroid.report/internal/config"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

// DetectionConfig tunes source extraction.
type DetectionConfig struct {
	Sigma            float64 // threshold in units of sky noise
	MinPixels        int     // smallest accepted component
	MaxDetections    int     // cap on reported detections
	StreakElongation float64 // major/minor axis ratio that marks a streak
}

// DetectionConfigFrom extracts the detection settings from cfg.
func DetectionConfigFrom(cfg *config.PipelineConfig) DetectionConfig {
	return DetectionConfig{
		Sigma:            cfg.GetDetectionSigma(),
		MinPixels:        cfg.GetMinDetectionPixels(),
		MaxDetections:    cfg.GetMaxDetections(),
		StreakElongation: cfg.GetStreakElongation(),
	}
}

// Detection finds connected groups of pixels above a noise threshold in
// the calibrated image.
type Detection struct {
	cfg DetectionConfig
}

// NewDetection returns the detection stage.
func NewDetection(cfg DetectionConfig) *Detection {
	return &Detection{cfg: cfg}
}

func (*Detection) Name() string { return NameDetection }

func (d *Detection) Process(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageContext, error) {
	if sc.Calibration == nil {
		return nil, ErrNoCalibration
	}
	if sc.Calibrated == nil {
		return nil, pipeline.ErrNoImage
	}

	threshold := d.cfg.Sigma * sc.Calibration.Noise
	components := segment(sc.Calibrated, threshold)

	dets := make([]astro.Detection, 0, len(components))
	for _, comp := range components {
		if len(comp) < d.cfg.MinPixels {
			continue
		}
		dets = append(dets, d.measure(sc.Calibrated, comp, sc.Calibration.Noise))
	}
	// Confidence saturates for bright sources; flux breaks the tie.
	sort.SliceStable(dets, func(i, j int) bool {
		if dets[i].Confidence != dets[j].Confidence {
			return dets[i].Confidence > dets[j].Confidence
		}
		return dets[i].Flux > dets[j].Flux
	})
	if d.cfg.MaxDetections > 0 && len(dets) > d.cfg.MaxDetections {
		dets = dets[:d.cfg.MaxDetections]
	}

	out := sc.Clone()
	out.Detections = append(out.Detections, dets...)
	out.Header.Set("NDETECT", len(dets), "sources above threshold")
	tracef("%s: %d components above %.2f, %d detections", sc.Frame.ID, len(components), threshold, len(dets))
	return out, ctx.Err()
}

type pixel struct{ x, y int }

// segment returns the 8-connected components of pixels strictly above
// threshold, in raster order of their first pixel.
func segment(img *mat.Dense, threshold float64) [][]pixel {
	rows, cols := img.Dims()
	seen := make([]bool, rows*cols)
	var comps [][]pixel
	var stack []pixel
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if seen[y*cols+x] || !(img.At(y, x) > threshold) {
				continue
			}
			var comp []pixel
			seen[y*cols+x] = true
			stack = append(stack[:0], pixel{x, y})
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				comp = append(comp, p)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p.x+dx, p.y+dy
						if nx < 0 || ny < 0 || nx >= cols || ny >= rows || seen[ny*cols+nx] {
							continue
						}
						if img.At(ny, nx) > threshold {
							seen[ny*cols+nx] = true
							stack = append(stack, pixel{nx, ny})
						}
					}
				}
			}
			comps = append(comps, comp)
		}
	}
	return comps
}

// measure computes the flux-weighted centroid, confidence and shape of
// one component.
func (d *Detection) measure(img *mat.Dense, comp []pixel, noise float64) astro.Detection {
	w := make([]float64, len(comp))
	xs := make([]float64, len(comp))
	ys := make([]float64, len(comp))
	for i, p := range comp {
		w[i] = img.At(p.y, p.x)
		xs[i] = float64(p.x)
		ys[i] = float64(p.y)
	}
	flux := floats.Sum(w)
	cx := floats.Dot(w, xs) / flux
	cy := floats.Dot(w, ys) / flux
	peak := floats.Max(w)

	var sxx, syy, sxy float64
	for i := range comp {
		dx, dy := xs[i]-cx, ys[i]-cy
		sxx += w[i] * dx * dx
		syy += w[i] * dy * dy
		sxy += w[i] * dx * dy
	}
	sxx /= flux
	syy /= flux
	sxy /= flux

	det := astro.Detection{
		X:          cx,
		Y:          cy,
		Flux:       flux,
		Pixels:     len(comp),
		Confidence: confidence(peak, noise, d.cfg.Sigma),
	}
	det.Streak = d.streak(sxx, syy, sxy)
	return det
}

// confidence maps peak signal-to-noise to [0,1]; a peak exactly at the
// threshold scores 0.5.
func confidence(peak, noise, sigma float64) float64 {
	if noise <= 0 {
		return 1
	}
	snr := peak / noise
	return 1 / (1 + math.Exp(-(snr - sigma)))
}

// streak returns the trail geometry when the second-moment ellipse is
// elongated enough, nil otherwise.
func (d *Detection) streak(sxx, syy, sxy float64) *astro.Streak {
	cov := mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy})
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil
	}
	vals := eig.Values(nil) // ascending
	minor, major := vals[0], vals[1]
	if major <= 0 {
		return nil
	}
	if minor > 0 && math.Sqrt(major/minor) < d.cfg.StreakElongation {
		return nil
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	angle := math.Atan2(vecs.At(1, 1), vecs.At(0, 1)) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	if angle >= 180 {
		angle -= 180
	}
	return &astro.Streak{
		// A uniform segment of length L has variance L²/12 along its axis.
		Length:   math.Sqrt(12 * major),
		AngleDeg: angle,
	}
}
