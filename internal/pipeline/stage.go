package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/asteroid.report/internal/astro"
	"github.com/banshee-data/asteroid.report/internal/fits"
	"github.com/banshee-data/asteroid.report/internal/frames"
)

// Stage is one transform in the chain. Process receives the context
// produced by the previous stage and returns the context handed to the
// next. Stages add their own outputs and must leave earlier outputs in
// place. Process must return once ctx is done.
type Stage interface {
	Name() string
	Process(ctx context.Context, sc *StageContext) (*StageContext, error)
}

// Context status values.
const (
	ContextRunning  = "running"
	ContextComplete = "complete"
	ContextFailed   = "failed"
)

var (
	// ErrNoImage is returned by stages whose input image is missing.
	ErrNoImage = errors.New("no image data")
	// ErrStageTimeout marks a stage that overran the configured deadline.
	ErrStageTimeout = errors.New("stage timed out")
	// ErrStagePanic marks a stage that panicked.
	ErrStagePanic = errors.New("stage panicked")
	// ErrContextClobbered marks a stage that dropped or replaced an
	// earlier stage's output.
	ErrContextClobbered = errors.New("stage removed earlier output")
)

// StageContext accumulates the outputs of one traversal. It is owned by
// that traversal and never shared.
type StageContext struct {
	Frame  *frames.Frame
	Header fits.Header

	// Image is the current working image: Calibrated once calibration
	// has run, Raw before that.
	Image      *mat.Dense
	Raw        *mat.Dense
	Calibrated *mat.Dense

	Calibration *astro.Calibration
	Detections  []astro.Detection
	Orbits      []astro.OrbitalElement

	Completed []string
	Status    string
}

// NewStageContext returns the empty context a traversal of f starts from.
func NewStageContext(f *frames.Frame) *StageContext {
	return &StageContext{Frame: f, Status: ContextRunning}
}

// Clone returns a copy that a stage may extend without touching sc.
// Matrices are shared; stages replace rather than modify them.
func (sc *StageContext) Clone() *StageContext {
	c := *sc
	c.Header = sc.Header.Clone()
	c.Detections = slices.Clone(sc.Detections)
	c.Orbits = slices.Clone(sc.Orbits)
	c.Completed = slices.Clone(sc.Completed)
	return &c
}

// HasRun reports whether the named stage completed in this traversal.
func (sc *StageContext) HasRun(stage string) bool {
	return slices.Contains(sc.Completed, stage)
}

// StageError is the StageFailure raised by the chain: the named stage's
// precondition or computation failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SourceError is the SourceFailure raised when the frame source could
// not produce a frame.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("frame source: %v", e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
