package frames

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/banshee-data/asteroid.report/internal/astro"
	"github.com/banshee-data/asteroid.report/internal/config"
	"github.com/banshee-data/asteroid.report/internal/fits"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

const (
	psfSigma     = 1.2  // pixels
	edgeMargin   = 6    // keep injected sources off the border
	pointingJolt = 2e-4 // deg, per-frame pointing jitter
)

// SyntheticConfig controls the synthetic frame generator.
type SyntheticConfig struct {
	Width             int
	Height            int
	Background        float64
	Noise             float64
	MaxObjects        int
	Amplitude         float64
	StreakProbability float64
	PointingDropout   float64
	Pointing          astro.Pointing
	PixelScale        float64
	ExposureSeconds   float64
	Telescope         string
	Observer          string
	Site              Site
	Seed              int64
}

// SyntheticConfigFrom extracts the generator settings from cfg.
func SyntheticConfigFrom(cfg *config.PipelineConfig) SyntheticConfig {
	return SyntheticConfig{
		Width:             cfg.GetImageWidth(),
		Height:            cfg.GetImageHeight(),
		Background:        cfg.GetBackgroundLevel(),
		Noise:             cfg.GetNoiseSigma(),
		MaxObjects:        cfg.GetMaxObjects(),
		Amplitude:         cfg.GetObjectAmplitude(),
		StreakProbability: cfg.GetStreakProbability(),
		PointingDropout:   cfg.GetPointingDropout(),
		Pointing:          astro.Pointing{RA: cfg.GetPointingRA(), Dec: cfg.GetPointingDec()},
		PixelScale:        cfg.GetPixelScaleDeg(),
		ExposureSeconds:   cfg.GetExposureSeconds(),
		Telescope:         cfg.GetTelescope(),
		Observer:          cfg.GetObserver(),
		Site: Site{
			Latitude:  cfg.GetSiteLatitude(),
			Longitude: cfg.GetSiteLongitude(),
			Elevation: cfg.GetSiteElevation(),
		},
		Seed: cfg.GetSeed(),
	}
}

// SyntheticSource generates frames of Gaussian sky noise with a random
// number of point sources and trailed streaks.
type SyntheticSource struct {
	cfg   SyntheticConfig
	clock timeutil.Clock

	mu   sync.Mutex // guards rng, seq and sink
	rng  *rand.Rand
	seq  uint64
	sink Sink
}

// NewSyntheticSource returns a generator. A zero Seed seeds from clock.
func NewSyntheticSource(cfg SyntheticConfig, clock timeutil.Clock) (*SyntheticSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = uint64(clock.Now().UnixNano())
	}
	return &SyntheticSource{
		cfg:   cfg,
		clock: clock,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// SetSink attaches the persistence hand-off. Pass nil to detach.
func (s *SyntheticSource) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Next manufactures a new frame with a fresh identifier.
func (s *SyntheticSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	f := &Frame{
		ID:         FrameID(s.seq),
		Sequence:   s.seq,
		CapturedAt: s.clock.Now().UTC(),
		Metadata: Metadata{
			ExposureSeconds: s.cfg.ExposureSeconds,
			Telescope:       s.cfg.Telescope,
			Observer:        s.cfg.Observer,
			PixelScale:      s.cfg.PixelScale,
			Site:            s.cfg.Site,
		},
	}
	if s.rng.Float64() >= s.cfg.PointingDropout {
		f.Metadata.Pointing = &astro.Pointing{
			RA:  astro.NormalizeRA(s.cfg.Pointing.RA + s.rng.NormFloat64()*pointingJolt),
			Dec: math.Max(-90, math.Min(90, s.cfg.Pointing.Dec+s.rng.NormFloat64()*pointingJolt)),
		}
	}

	img := fits.Image{
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
		Pixels: make([]float64, s.cfg.Width*s.cfg.Height),
	}
	for i := range img.Pixels {
		img.Pixels[i] = s.cfg.Background + s.rng.NormFloat64()*s.cfg.Noise
	}

	n := 0
	if s.cfg.MaxObjects > 0 {
		n = 1 + s.rng.IntN(s.cfg.MaxObjects)
	}
	for range n {
		obj := s.place(img)
		f.Injected = append(f.Injected, obj)
	}
	f.Pixels = img

	tracef("generated %s: %dx%d, %d objects, pointing=%v", f.ID, img.Width, img.Height, len(f.Injected), f.Metadata.Pointing != nil)
	handOff(s.sink, f)
	return f, nil
}

// place draws one random source into img.
func (s *SyntheticSource) place(img fits.Image) Injected {
	mx := min(edgeMargin, img.Width/4)
	my := min(edgeMargin, img.Height/4)
	obj := Injected{
		X:         float64(mx) + s.rng.Float64()*float64(img.Width-2*mx-1),
		Y:         float64(my) + s.rng.Float64()*float64(img.Height-2*my-1),
		Amplitude: s.cfg.Amplitude * (0.5 + s.rng.Float64()),
	}
	if s.rng.Float64() < s.cfg.StreakProbability {
		obj.Streak = &astro.Streak{
			Length:   8 + s.rng.Float64()*12,
			AngleDeg: s.rng.Float64() * 180,
		}
		drawStreak(img, obj)
		return obj
	}
	drawPSF(img, obj.X, obj.Y, obj.Amplitude)
	return obj
}

func drawPSF(img fits.Image, cx, cy, amp float64) {
	r := int(math.Ceil(4 * psfSigma))
	x0, y0 := int(math.Round(cx)), int(math.Round(cy))
	for y := max(0, y0-r); y <= min(img.Height-1, y0+r); y++ {
		for x := max(0, x0-r); x <= min(img.Width-1, x0+r); x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			img.Pixels[y*img.Width+x] += amp * math.Exp(-(dx*dx+dy*dy)/(2*psfSigma*psfSigma))
		}
	}
}

// drawStreak spreads the object's amplitude along a line centred on it.
// Each sample keeps the full peak so the trail stays above threshold.
func drawStreak(img fits.Image, obj Injected) {
	theta := obj.Streak.AngleDeg * math.Pi / 180
	ux, uy := math.Cos(theta), math.Sin(theta)
	steps := int(obj.Streak.Length * 2)
	trail := fits.Image{Width: img.Width, Height: img.Height, Pixels: make([]float64, len(img.Pixels))}
	for i := 0; i <= steps; i++ {
		t := -obj.Streak.Length/2 + float64(i)*0.5
		drawPSF(trail, obj.X+t*ux, obj.Y+t*uy, 1)
	}
	peak := 0.0
	for _, v := range trail.Pixels {
		peak = max(peak, v)
	}
	if peak == 0 {
		return
	}
	for i, v := range trail.Pixels {
		img.Pixels[i] += v / peak * obj.Amplitude
	}
}
