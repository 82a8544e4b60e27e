package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/banshee-data/asteroid.report/internal/astro"
)

// Status is the lifecycle state of a Result.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Result is the published outcome of one traversal. The JSON shape is
// the same for every status: collections are never null and error is
// always present.
type Result struct {
	Status      Status                 `json:"status"`
	FrameID     string                 `json:"frame_id"`
	Cycle       uint64                 `json:"cycle"`
	Image       string                 `json:"image"` // base64 PNG
	Detections  []astro.Detection      `json:"detections"`
	Orbits      []astro.OrbitalElement `json:"orbits"`
	Error       string                 `json:"error"`
	FailedStage string                 `json:"failed_stage"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// PendingResult is the sentinel published before the first cycle.
func PendingResult() Result {
	return Result{
		Status:     StatusPending,
		Detections: []astro.Detection{},
		Orbits:     []astro.OrbitalElement{},
	}
}

// Clone returns a deep copy with non-nil collections.
func (r Result) Clone() Result {
	c := r
	c.Detections = slices.Clone(r.Detections)
	if c.Detections == nil {
		c.Detections = []astro.Detection{}
	}
	c.Orbits = slices.Clone(r.Orbits)
	if c.Orbits == nil {
		c.Orbits = []astro.OrbitalElement{}
	}
	return c
}

// Validate checks that the fields agree with the status.
func (r Result) Validate() error {
	switch r.Status {
	case StatusPending:
		if r.FrameID != "" || r.Error != "" || len(r.Detections) > 0 || len(r.Orbits) > 0 {
			return errors.New("pending result carries data")
		}
	case StatusProcessing:
		if r.FrameID == "" {
			return errors.New("processing result without frame")
		}
		if r.Error != "" || len(r.Detections) > 0 || len(r.Orbits) > 0 {
			return errors.New("processing result carries output")
		}
	case StatusFailed:
		if r.FrameID == "" || r.Error == "" {
			return errors.New("failed result without frame or cause")
		}
		if len(r.Detections) > 0 || len(r.Orbits) > 0 {
			return errors.New("failed result carries output")
		}
	case StatusSuccess:
		if r.FrameID == "" {
			return errors.New("success result without frame")
		}
		if r.Error != "" {
			return errors.New("success result carries error")
		}
		if len(r.Orbits) > len(r.Detections) {
			return fmt.Errorf("%d orbits for %d detections", len(r.Orbits), len(r.Detections))
		}
		for _, o := range r.Orbits {
			if o.Detection < 0 || o.Detection >= len(r.Detections) {
				return fmt.Errorf("orbit references detection %d of %d", o.Detection, len(r.Detections))
			}
		}
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}
