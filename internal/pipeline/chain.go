package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/banshee-data/asteroid.report/internal/frames"
)

// Chain runs a fixed, ordered list of stages against one frame and stops
// at the first failure.
type Chain struct {
	stages  []Stage
	timeout time.Duration
}

// NewChain composes stages in the given order. A positive timeout gives
// every stage call a context deadline of that length.
func NewChain(timeout time.Duration, stages ...Stage) *Chain {
	return &Chain{stages: slices.Clone(stages), timeout: timeout}
}

// Names returns the stage names in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Run traverses the chain for f. On failure it returns the context as
// it stood before the failing stage together with a *StageError; the
// remaining stages are not invoked.
func (c *Chain) Run(ctx context.Context, f *frames.Frame) (*StageContext, error) {
	sc := NewStageContext(f)
	for _, stage := range c.stages {
		name := stage.Name()
		start := time.Now()
		out, err := c.invoke(ctx, stage, sc)
		if err == nil {
			err = retained(sc, out)
		}
		if err != nil {
			sc.Status = ContextFailed
			tracef("%s: %s failed after %s: %v", f.ID, name, time.Since(start), err)
			return sc, &StageError{Stage: name, Err: err}
		}
		out.Completed = append(out.Completed, name)
		tracef("%s: %s done in %s", f.ID, name, time.Since(start))
		sc = out
	}
	sc.Status = ContextComplete
	return sc, nil
}

// invoke calls one stage, applying the deadline and converting panics.
func (c *Chain) invoke(ctx context.Context, stage Stage, in *StageContext) (out *StageContext, err error) {
	stageCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()

	out, err = stage.Process(stageCtx, in)
	if c.timeout > 0 && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrStageTimeout, c.timeout)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("stage returned no context")
	}
	return out, nil
}

// retained checks that a stage kept everything earlier stages produced.
func retained(prev, next *StageContext) error {
	switch {
	case next.Frame != prev.Frame:
		return fmt.Errorf("%w: frame", ErrContextClobbered)
	case len(next.Completed) < len(prev.Completed) || !slices.Equal(next.Completed[:len(prev.Completed)], prev.Completed):
		return fmt.Errorf("%w: completed stages", ErrContextClobbered)
	case prev.Raw != nil && next.Raw != prev.Raw:
		return fmt.Errorf("%w: raw image", ErrContextClobbered)
	case prev.Calibrated != nil && next.Calibrated != prev.Calibrated:
		return fmt.Errorf("%w: calibrated image", ErrContextClobbered)
	case prev.Calibration != nil && next.Calibration != prev.Calibration:
		return fmt.Errorf("%w: calibration", ErrContextClobbered)
	case len(next.Detections) < len(prev.Detections):
		return fmt.Errorf("%w: detections", ErrContextClobbered)
	case len(next.Orbits) < len(prev.Orbits):
		return fmt.Errorf("%w: orbits", ErrContextClobbered)
	}
	for _, k := range prev.Header.Keys() {
		if !next.Header.Has(k) {
			return fmt.Errorf("%w: header keyword %s", ErrContextClobbered, k)
		}
	}
	return nil
}
