package astro

import (
	"math"
	"time"
)

// Pointing is the commanded telescope boresight for a frame, in degrees.
type Pointing struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// Streak describes an elongated detection (a trailed moving object).
type Streak struct {
	Length   float64 `json:"length"`    // pixels, major axis
	AngleDeg float64 `json:"angle_deg"` // measured from +x towards +y
}

// Detection is one candidate object found in a frame.
type Detection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	Flux       float64 `json:"flux"`
	Pixels     int     `json:"pixels"`
	Streak     *Streak `json:"streak,omitempty"`
}

// OrbitalElement is the orbit summary estimated for a single detection.
type OrbitalElement struct {
	Detection  int       `json:"detection"` // index into the frame's detection list
	RA         float64   `json:"ra"`
	Dec        float64   `json:"dec"`
	Epoch      time.Time `json:"epoch"`
	Confidence float64   `json:"confidence"`
}

// WCS is a linear approximation of a tangent-plane world coordinate
// system. Field names follow the FITS keywords they are written to.
type WCS struct {
	CRPIX1 float64 `json:"crpix1"`
	CRPIX2 float64 `json:"crpix2"`
	CRVAL1 float64 `json:"crval1"`
	CRVAL2 float64 `json:"crval2"`
	CDELT1 float64 `json:"cdelt1"`
	CDELT2 float64 `json:"cdelt2"`
}

// PixelToSky converts pixel coordinates to RA/Dec in degrees.
// RA is normalised into [0, 360); Dec is clamped to [-90, 90].
func (w WCS) PixelToSky(x, y float64) (ra, dec float64) {
	ra = NormalizeRA(w.CRVAL1 + (x-w.CRPIX1)*w.CDELT1)
	dec = w.CRVAL2 + (y-w.CRPIX2)*w.CDELT2
	return ra, math.Max(-90, math.Min(90, dec))
}

// NormalizeRA wraps an angle in degrees into [0, 360).
func NormalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra
}

// Calibration is the output of the calibration stage.
type Calibration struct {
	WCS        WCS     `json:"wcs"`
	Background float64 `json:"background"` // level subtracted from every pixel
	Noise      float64 `json:"noise"`      // robust sigma of the raw image
	Method     string  `json:"method"`
}
