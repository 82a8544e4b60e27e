package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/asteroid.report/internal/astro"
	"github.com/banshee-data/asteroid.report/internal/frames"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

// FrameSource produces the next frame to process.
type FrameSource interface {
	Next(ctx context.Context) (*frames.Frame, error)
}

// Renderer turns a traversal into an image for transport. sc may be a
// partial context when the traversal failed.
type Renderer interface {
	Render(f *frames.Frame, sc *StageContext) ([]byte, error)
}

// State is the orchestrator loop position.
type State int32

const (
	StateIdle State = iota
	StateGenerating
	StateChaining
	StatePublishing
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateChaining:
		return "chaining"
	case StatePublishing:
		return "publishing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("orchestrator already running")

// Options configures an Orchestrator.
type Options struct {
	Interval time.Duration  // sleep between cycles
	Clock    timeutil.Clock // defaults to the real clock
	Renderer Renderer       // optional
}

// Stats is a snapshot of loop counters.
type Stats struct {
	RunID        string    `json:"run_id"`
	State        string    `json:"state"`
	Cycles       uint64    `json:"cycles"`
	Successes    uint64    `json:"successes"`
	Failures     uint64    `json:"failures"`
	Skipped      uint64    `json:"skipped"`
	LastFrameID  string    `json:"last_frame_id"`
	LastDuration string    `json:"last_duration"`
	StartedAt    time.Time `json:"started_at"`
	Stages       []string  `json:"stages"`
}

// Orchestrator is the single writer: it generates frames, runs them
// through the chain and publishes each outcome to the store.
type Orchestrator struct {
	source   FrameSource
	chain    *Chain
	store    *Store
	renderer Renderer
	clock    timeutil.Clock
	interval time.Duration
	runID    string

	running atomic.Bool
	state   atomic.Int32

	cycles       atomic.Uint64
	successes    atomic.Uint64
	failures     atomic.Uint64
	skipped      atomic.Uint64
	lastDuration atomic.Int64

	mu        sync.Mutex // guards lastFrame and startedAt
	lastFrame string
	startedAt time.Time
}

// NewOrchestrator wires source, chain and store together.
func NewOrchestrator(source FrameSource, chain *Chain, store *Store, opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Orchestrator{
		source:   source,
		chain:    chain,
		store:    store,
		renderer: opts.Renderer,
		clock:    clock,
		interval: opts.Interval,
		runID:    uuid.New().String(),
	}
}

// RunID identifies this orchestrator instance.
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the current loop position.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) setState(s State) { o.state.Store(int32(s)) }

// Run cycles until ctx is cancelled. Cancellation is checked between
// cycles; a traversal already under way completes and publishes first.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)

	o.mu.Lock()
	o.startedAt = o.clock.Now()
	o.mu.Unlock()
	diagf("orchestrator %s started: interval=%s stages=%v", o.runID, o.interval, o.chain.Names())

	detached := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		// Failures are already published and logged by RunOnce.
		if _, err := o.RunOnce(detached); errors.Is(err, frames.ErrExhausted) {
			opsf("orchestrator %s: frame source exhausted, loop stopped", o.runID)
			break
		}

		o.setState(StateSleeping)
		if err := timeutil.Wait(ctx, o.clock, o.interval); err != nil {
			break
		}
	}
	o.setState(StateStopped)
	diagf("orchestrator %s stopped after %d cycles", o.runID, o.cycles.Load())
	return nil
}

// RunOnce performs a single cycle and returns the published result. A
// *SourceError means no frame was produced and nothing was published;
// a *StageError means a failed result was published.
func (o *Orchestrator) RunOnce(ctx context.Context) (Result, error) {
	o.setState(StateGenerating)
	frame, err := o.next(ctx)
	if err == nil && frame == nil {
		err = errors.New("source returned no frame")
	}
	if err != nil {
		o.skipped.Add(1)
		opsf("cycle skipped: %v", err)
		return Result{}, &SourceError{Err: err}
	}

	start := o.clock.Now()
	cycle := o.cycles.Add(1)
	o.mu.Lock()
	o.lastFrame = frame.ID
	o.mu.Unlock()

	o.setState(StatePublishing)
	o.store.Publish(Result{
		Status:    StatusProcessing,
		FrameID:   frame.ID,
		Cycle:     cycle,
		StartedAt: start,
	})

	o.setState(StateChaining)
	sc, chainErr := o.chain.Run(ctx, frame)

	o.setState(StatePublishing)
	res := Result{
		FrameID:    frame.ID,
		Cycle:      cycle,
		StartedAt:  start,
		Detections: []astro.Detection{},
		Orbits:     []astro.OrbitalElement{},
	}
	if chainErr != nil {
		res.Status = StatusFailed
		res.Error = chainErr.Error()
		var se *StageError
		if errors.As(chainErr, &se) {
			res.FailedStage = se.Stage
		}
		o.failures.Add(1)
		opsf("cycle %d frame %s failed: %v", cycle, frame.ID, chainErr)
	} else {
		res.Status = StatusSuccess
		res.Detections = sc.Detections
		res.Orbits = sc.Orbits
		o.successes.Add(1)
	}
	res.Image = o.render(frame, sc)
	res.CompletedAt = o.clock.Now()
	o.store.Publish(res)

	elapsed := res.CompletedAt.Sub(start)
	o.lastDuration.Store(int64(elapsed))
	diagf("cycle %d frame %s: %s, %d detections, %d orbits in %s",
		cycle, frame.ID, res.Status, len(res.Detections), len(res.Orbits), elapsed)
	return res.Clone(), chainErr
}

// next asks the source for a frame. A panicking source is a source
// failure like any other.
func (o *Orchestrator) next(ctx context.Context) (f *frames.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, fmt.Errorf("frame source panicked: %v", r)
		}
	}()
	return o.source.Next(ctx)
}

// render is best effort: errors and panics leave the image empty.
func (o *Orchestrator) render(f *frames.Frame, sc *StageContext) (img string) {
	if o.renderer == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			opsf("render %s panicked: %v", f.ID, r)
			img = ""
		}
	}()
	png, err := o.renderer.Render(f, sc)
	if err != nil {
		opsf("render %s: %v", f.ID, err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(png)
}

// Stats returns a snapshot of the loop counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	last, started := o.lastFrame, o.startedAt
	o.mu.Unlock()
	return Stats{
		RunID:        o.runID,
		State:        o.State().String(),
		Cycles:       o.cycles.Load(),
		Successes:    o.successes.Load(),
		Failures:     o.failures.Load(),
		Skipped:      o.skipped.Load(),
		LastFrameID:  last,
		LastDuration: time.Duration(o.lastDuration.Load()).String(),
		StartedAt:    started,
		Stages:       o.chain.Names(),
	}
}
