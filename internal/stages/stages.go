// Package stages holds the four processing steps run by the pipeline
// chain: ingest, calibration, detection and orbit estimation.
package stages

import (
	"errors"

	"github.com/banshee-data/asteroid.report/internal/config"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

// Stage names, in chain order.
const (
	NameIngest      = "ingest"
	NameCalibration = "calibration"
	NameDetection   = "detection"
	NameOrbit       = "orbit"
)

var (
	// ErrNoPointing is returned by calibration when the frame carries no
	// telescope pointing.
	ErrNoPointing = errors.New("missing pointing metadata")
	// ErrNoCalibration is returned when a stage needs calibration output
	// that is not present.
	ErrNoCalibration = errors.New("calibration output missing")
	// ErrNoDetectionOutput is returned by orbit when detection has not run.
	ErrNoDetectionOutput = errors.New("detection output missing")
)

// Standard returns the four stages in their fixed order.
func Standard(cfg *config.PipelineConfig) []pipeline.Stage {
	return []pipeline.Stage{
		NewIngest(),
		NewCalibration(cfg.GetPixelScaleDeg()),
		NewDetection(DetectionConfigFrom(cfg)),
		NewOrbit(cfg.GetOrbitMinConfidence()),
	}
}

// NewChain builds the standard chain with the configured stage timeout.
func NewChain(cfg *config.PipelineConfig) *pipeline.Chain {
	return pipeline.NewChain(cfg.GetStageTimeout(), Standard(cfg)...)
}
