// Package frames manufactures the observation frames fed into the
// pipeline: synthetic frames for continuous operation and replayed FITS
// files from disk.
package frames

import (
	"fmt"
	"time"

	"github.com/banshee-data/asteroid.report/internal/astro"
	"github.com/banshee-data/asteroid.report/internal/fits"
)

// DateLayout is the FITS DATE keyword format used in frame headers.
const DateLayout = "2006-01-02T15:04:05.000"

// Site is the observatory location written to frame headers.
type Site struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

// Metadata is the synthetic observing context attached to a frame.
// Pointing is nil when the telescope did not report a position.
type Metadata struct {
	Pointing        *astro.Pointing `json:"pointing,omitempty"`
	ExposureSeconds float64         `json:"exposure_seconds"`
	Telescope       string          `json:"telescope"`
	Observer        string          `json:"observer"`
	PixelScale      float64         `json:"pixel_scale_deg"`
	Site            Site            `json:"site"`
}

// Injected is a source placed into a synthetic frame. It is ground truth
// for tests and the status endpoint; no stage reads it.
type Injected struct {
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
	Amplitude float64       `json:"amplitude"`
	Streak    *astro.Streak `json:"streak,omitempty"`
}

// Frame is one observation. Frames are immutable once returned by a
// source; consumers must copy Pixels before modifying them.
type Frame struct {
	ID         string
	Sequence   uint64
	Pixels     fits.Image
	CapturedAt time.Time
	Metadata   Metadata
	Origin     string // source file for replayed frames
	Injected   []Injected
}

// FrameID formats the identifier for sequence number seq.
func FrameID(seq uint64) string {
	return fmt.Sprintf("f-%03d", seq)
}

// Header builds the FITS header describing the frame.
func (f *Frame) Header() fits.Header {
	var h fits.Header
	h.Set("FRAMEID", f.ID, "pipeline frame identifier")
	h.Set("DATE", f.CapturedAt.UTC().Format(DateLayout), "UTC start of exposure")
	h.Set("EXPTIME", f.Metadata.ExposureSeconds, "exposure time [s]")
	h.Set("TELESCOP", f.Metadata.Telescope)
	h.Set("OBSERVER", f.Metadata.Observer)
	if p := f.Metadata.Pointing; p != nil {
		h.Set("RA_PNT", p.RA, "commanded RA [deg]")
		h.Set("DEC_PNT", p.Dec, "commanded Dec [deg]")
	}
	h.Set("PIXSCALE", f.Metadata.PixelScale, "[deg/pixel]")
	h.Set("SITELAT", f.Metadata.Site.Latitude, "[deg]")
	h.Set("SITELONG", f.Metadata.Site.Longitude, "[deg]")
	h.Set("SITEELEV", f.Metadata.Site.Elevation, "[m]")
	return h
}

// FromFITS rebuilds a frame from a decoded header and image. fallback is
// used as the capture time when DATE is missing or malformed.
func FromFITS(id string, seq uint64, h fits.Header, img fits.Image, fallback time.Time) *Frame {
	f := &Frame{
		ID:         id,
		Sequence:   seq,
		Pixels:     img,
		CapturedAt: fallback,
	}
	if s, ok := h.String("DATE"); ok {
		if t, err := time.Parse(DateLayout, s); err == nil {
			f.CapturedAt = t
		} else if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
			f.CapturedAt = t
		}
	}
	ra, okRA := h.Float("RA_PNT")
	dec, okDec := h.Float("DEC_PNT")
	if okRA && okDec {
		f.Metadata.Pointing = &astro.Pointing{RA: ra, Dec: dec}
	}
	f.Metadata.ExposureSeconds, _ = h.Float("EXPTIME")
	f.Metadata.Telescope, _ = h.String("TELESCOP")
	f.Metadata.Observer, _ = h.String("OBSERVER")
	f.Metadata.PixelScale, _ = h.Float("PIXSCALE")
	f.Metadata.Site.Latitude, _ = h.Float("SITELAT")
	f.Metadata.Site.Longitude, _ = h.Float("SITELONG")
	f.Metadata.Site.Elevation, _ = h.Float("SITEELEV")
	return f
}

// Sink receives generated frames for best-effort persistence. Enqueue
// must not block; an error means the frame was not accepted.
type Sink interface {
	Enqueue(f *Frame) error
}

func handOff(sink Sink, f *Frame) {
	if sink == nil {
		return
	}
	if err := sink.Enqueue(f); err != nil {
		opsf("frame %s not staged: %v", f.ID, err)
	}
}
