package stages

import (
	"context"
	"encoding/json"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/asteroid.report/internal/config"
	"github.com/banshee-data/asteroid.report/internal/frames"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
	"github.com/banshee-data/asteroid.report/internal/render"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

// newRig wires a synthetic source through the standard chain, skipping
// the first skip frames so the next cycle processes frame skip+1.
func newRig(t *testing.T, mutate func(*frames.SyntheticConfig), skip int) (*pipeline.Orchestrator, *pipeline.Query) {
	t.Helper()
	cfg := config.EmptyPipelineConfig()
	sc := frames.SyntheticConfigFrom(cfg)
	sc.Seed = 11
	if mutate != nil {
		mutate(&sc)
	}
	src, err := frames.NewSyntheticSource(sc, timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	for range skip {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}
	store := pipeline.NewStore()
	o := pipeline.NewOrchestrator(src, NewChain(cfg), store, pipeline.Options{Clock: timeutil.NewMockClock(epoch)})
	return o, pipeline.NewQuery(store)
}

func TestScenario_WellFormedFrame(t *testing.T) {
	t.Parallel()
	o, q := newRig(t, nil, 0)
	res, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	latest := q.Latest()
	assert.Equal(t, res, latest)
	assert.Equal(t, pipeline.StatusSuccess, latest.Status)
	assert.Equal(t, "f-001", latest.FrameID)
	require.NoError(t, latest.Validate())
	require.NotEmpty(t, latest.Detections)

	passed := 0
	for _, d := range latest.Detections {
		if d.Confidence >= 0.5 {
			passed++
		}
	}
	assert.Len(t, latest.Orbits, passed)
	for _, orb := range latest.Orbits {
		assert.InDelta(t, 200, orb.RA, 0.05)
		assert.InDelta(t, 30, orb.Dec, 0.05)
		assert.Equal(t, epoch, orb.Epoch)
	}
}

func TestScenario_DetectionsNearInjectedSources(t *testing.T) {
	t.Parallel()
	cfg := frames.SyntheticConfigFrom(config.EmptyPipelineConfig())
	cfg.Seed = 23
	cfg.StreakProbability = 0
	src, err := frames.NewSyntheticSource(cfg, timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	f, err := src.Next(context.Background())
	require.NoError(t, err)

	sc, err := NewChain(config.EmptyPipelineConfig()).Run(context.Background(), f)
	require.NoError(t, err)
	require.NotEmpty(t, sc.Detections)
	for _, d := range sc.Detections {
		nearest := math.Inf(1)
		for _, inj := range f.Injected {
			nearest = math.Min(nearest, math.Hypot(d.X-inj.X, d.Y-inj.Y))
		}
		assert.Less(t, nearest, 6.0, "detection at (%.1f, %.1f) matches nothing injected", d.X, d.Y)
	}
}

func TestScenario_NoSignalIsSuccess(t *testing.T) {
	t.Parallel()
	o, q := newRig(t, func(c *frames.SyntheticConfig) { c.MaxObjects = 0 }, 1)
	_, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	latest := q.Latest()
	assert.Equal(t, pipeline.StatusSuccess, latest.Status)
	assert.Equal(t, "f-002", latest.FrameID)
	assert.Empty(t, latest.Detections)
	assert.Empty(t, latest.Orbits)
	assert.Empty(t, latest.Error)
}

func TestScenario_MissingPointingFailsCalibration(t *testing.T) {
	t.Parallel()
	o, q := newRig(t, func(c *frames.SyntheticConfig) { c.PointingDropout = 1 }, 2)
	_, err := o.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPointing)

	latest := q.Latest()
	assert.Equal(t, pipeline.StatusFailed, latest.Status)
	assert.Equal(t, "f-003", latest.FrameID)
	assert.Equal(t, NameCalibration, latest.FailedStage)
	assert.NotEmpty(t, latest.Error)
	assert.Empty(t, latest.Detections)
	assert.Empty(t, latest.Orbits)
	require.NoError(t, latest.Validate())
}

type fixedSource struct{ f *frames.Frame }

func (s fixedSource) Next(context.Context) (*frames.Frame, error) { return s.f, nil }

func TestScenario_NonFinitePixels(t *testing.T) {
	t.Parallel()
	cfg := frames.SyntheticConfigFrom(config.EmptyPipelineConfig())
	cfg.Seed = 5
	cfg.MaxObjects = 0
	src, err := frames.NewSyntheticSource(cfg, timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	f, err := src.Next(context.Background())
	require.NoError(t, err)

	px := slices.Clone(f.Pixels.Pixels)
	w := f.Pixels.Width
	for x := 0; x < w; x++ {
		px[x] = math.NaN()
	}
	for y := 40; y < 43; y++ {
		for x := 40; x < 43; x++ {
			px[y*w+x] = 5000
		}
	}
	px[41*w+41] = math.Inf(1)
	f.Pixels.Pixels = px

	store := pipeline.NewStore()
	o := pipeline.NewOrchestrator(fixedSource{f}, NewChain(config.EmptyPipelineConfig()), store, pipeline.Options{
		Clock:    timeutil.NewMockClock(epoch),
		Renderer: render.New(200),
	})

	var res pipeline.Result
	require.NotPanics(t, func() { res, err = o.RunOnce(context.Background()) })
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.NotEmpty(t, res.Image)
	require.NotEmpty(t, res.Detections)
	for _, d := range res.Detections {
		for _, v := range []float64{d.X, d.Y, d.Flux, d.Confidence} {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "non-finite detection %+v", d)
		}
	}

	_, err = json.Marshal(pipeline.NewQuery(store).Latest())
	assert.NoError(t, err)
}
