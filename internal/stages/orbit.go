package stages

import (
	"context"
	"time"

	"github.com/banshee-data/asteroid.report/internal/astro"
	"github.com/banshee-data/asteroid.report/internal/frames"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

// Orbit converts confident detections into sky positions at the frame
// epoch.
type Orbit struct {
	minConfidence float64
}

// NewOrbit returns the orbit stage.
func NewOrbit(minConfidence float64) *Orbit {
	return &Orbit{minConfidence: minConfidence}
}

func (*Orbit) Name() string { return NameOrbit }

func (o *Orbit) Process(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageContext, error) {
	if !sc.HasRun(NameDetection) {
		return nil, ErrNoDetectionOutput
	}
	if sc.Calibration == nil {
		return nil, ErrNoCalibration
	}
	epoch := sc.Frame.CapturedAt
	if s, ok := sc.Header.String("DATE"); ok {
		if t, err := time.Parse(frames.DateLayout, s); err == nil {
			epoch = t
		}
	}

	orbits := make([]astro.OrbitalElement, 0, len(sc.Detections))
	for i, det := range sc.Detections {
		if det.Confidence < o.minConfidence {
			continue
		}
		ra, dec := sc.Calibration.WCS.PixelToSky(det.X, det.Y)
		orbits = append(orbits, astro.OrbitalElement{
			Detection:  i,
			RA:         ra,
			Dec:        dec,
			Epoch:      epoch,
			Confidence: det.Confidence,
		})
	}

	out := sc.Clone()
	out.Orbits = append(out.Orbits, orbits...)
	if out.Orbits == nil {
		out.Orbits = []astro.OrbitalElement{}
	}
	tracef("%s: %d of %d detections passed orbit threshold %.2f", sc.Frame.ID, len(orbits), len(sc.Detections), o.minConfidence)
	return out, ctx.Err()
}
