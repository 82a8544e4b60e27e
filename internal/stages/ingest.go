package stages

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

// Ingest loads the frame's pixels into a matrix and its metadata into
// the FITS header model.
type Ingest struct{}

// NewIngest returns the ingest stage.
func NewIngest() *Ingest { return &Ingest{} }

func (*Ingest) Name() string { return NameIngest }

func (*Ingest) Process(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageContext, error) {
	if sc.Frame == nil {
		return nil, fmt.Errorf("%w: no frame", pipeline.ErrNoImage)
	}
	img := sc.Frame.Pixels
	if len(img.Pixels) == 0 {
		return nil, pipeline.ErrNoImage
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrNoImage, err)
	}

	// Copy so the frame stays immutable.
	px := slices.Clone(img.Pixels)
	bad, err := maskNonFinite(px)
	if err != nil {
		return nil, err
	}

	out := sc.Clone()
	out.Raw = mat.NewDense(img.Height, img.Width, px)
	out.Image = out.Raw
	hdr := sc.Frame.Header()
	for _, c := range hdr.Cards() {
		out.Header.Set(c.Key, c.Value, c.Comment)
	}
	if bad > 0 {
		out.Header.Set("NBADPIX", bad, "non-finite pixels replaced by median")
		diagf("%s: masked %d non-finite pixels", sc.Frame.ID, bad)
	}
	tracef("%s ingested %dx%d, %d header cards", sc.Frame.ID, img.Width, img.Height, out.Header.Len())
	return out, ctx.Err()
}

// maskNonFinite replaces NaN and infinite pixels (FITS blanks) with the
// median of the finite ones and returns how many were replaced.
func maskNonFinite(px []float64) (int, error) {
	finite := make([]float64, 0, len(px))
	for _, v := range px {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	bad := len(px) - len(finite)
	if bad == 0 {
		return 0, nil
	}
	if len(finite) == 0 {
		return 0, fmt.Errorf("%w: all %d pixels are non-finite", pipeline.ErrNoImage, len(px))
	}
	slices.Sort(finite)
	fill := stat.Quantile(0.5, stat.Empirical, finite, nil)
	for i, v := range px {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			px[i] = fill
		}
	}
	return bad, nil
}
