package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig is the root configuration for the frame pipeline.
// Every field is optional; the Get* accessors supply defaults for
// anything left unset, so partial files are safe.
type PipelineConfig struct {
	// Orchestrator
	CycleInterval *string `json:"cycle_interval,omitempty" yaml:"cycle_interval,omitempty"` // duration string like "1s"
	StageTimeout  *string `json:"stage_timeout,omitempty" yaml:"stage_timeout,omitempty"`   // "" or "0s" disables

	// Frame source
	ImageWidth        *int     `json:"image_width,omitempty" yaml:"image_width,omitempty"`
	ImageHeight       *int     `json:"image_height,omitempty" yaml:"image_height,omitempty"`
	BackgroundLevel   *float64 `json:"background_level,omitempty" yaml:"background_level,omitempty"`
	NoiseSigma        *float64 `json:"noise_sigma,omitempty" yaml:"noise_sigma,omitempty"`
	MaxObjects        *int     `json:"max_objects,omitempty" yaml:"max_objects,omitempty"`
	ObjectAmplitude   *float64 `json:"object_amplitude,omitempty" yaml:"object_amplitude,omitempty"`
	StreakProbability *float64 `json:"streak_probability,omitempty" yaml:"streak_probability,omitempty"`
	PointingDropout   *float64 `json:"pointing_dropout,omitempty" yaml:"pointing_dropout,omitempty"`
	PointingRA        *float64 `json:"pointing_ra,omitempty" yaml:"pointing_ra,omitempty"`
	PointingDec       *float64 `json:"pointing_dec,omitempty" yaml:"pointing_dec,omitempty"`
	PixelScaleDeg     *float64 `json:"pixel_scale_deg,omitempty" yaml:"pixel_scale_deg,omitempty"`
	ExposureSeconds   *float64 `json:"exposure_seconds,omitempty" yaml:"exposure_seconds,omitempty"`
	Telescope         *string  `json:"telescope,omitempty" yaml:"telescope,omitempty"`
	Observer          *string  `json:"observer,omitempty" yaml:"observer,omitempty"`
	Seed              *int64   `json:"seed,omitempty" yaml:"seed,omitempty"` // 0 seeds from the clock

	// Observatory site, written to frame headers
	SiteLatitude  *float64 `json:"site_latitude,omitempty" yaml:"site_latitude,omitempty"`
	SiteLongitude *float64 `json:"site_longitude,omitempty" yaml:"site_longitude,omitempty"`
	SiteElevation *float64 `json:"site_elevation,omitempty" yaml:"site_elevation,omitempty"` // metres

	// Detection
	DetectionSigma     *float64 `json:"detection_sigma,omitempty" yaml:"detection_sigma,omitempty"`
	MinDetectionPixels *int     `json:"min_detection_pixels,omitempty" yaml:"min_detection_pixels,omitempty"`
	MaxDetections      *int     `json:"max_detections,omitempty" yaml:"max_detections,omitempty"`
	StreakElongation   *float64 `json:"streak_elongation,omitempty" yaml:"streak_elongation,omitempty"`

	// Orbit
	OrbitMinConfidence *float64 `json:"orbit_min_confidence,omitempty" yaml:"orbit_min_confidence,omitempty"`

	// Staging and catalog
	StagingDir       *string `json:"staging_dir,omitempty" yaml:"staging_dir,omitempty"`
	StagingRetention *int    `json:"staging_retention,omitempty" yaml:"staging_retention,omitempty"`
	StagingQueue     *int    `json:"staging_queue,omitempty" yaml:"staging_queue,omitempty"`
	StagingDisable   *bool   `json:"staging_disable,omitempty" yaml:"staging_disable,omitempty"`
	DatabasePath     *string `json:"database_path,omitempty" yaml:"database_path,omitempty"`

	// Rendering
	RenderSize *int `json:"render_size,omitempty" yaml:"render_size,omitempty"` // PNG edge in pixels
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field populated from
// the built-in defaults.
func DefaultPipelineConfig() *PipelineConfig {
	e := EmptyPipelineConfig()
	return &PipelineConfig{
		CycleInterval:      ptrString(e.GetCycleInterval().String()),
		StageTimeout:       ptrString(""),
		ImageWidth:         ptrInt(e.GetImageWidth()),
		ImageHeight:        ptrInt(e.GetImageHeight()),
		BackgroundLevel:    ptrFloat64(e.GetBackgroundLevel()),
		NoiseSigma:         ptrFloat64(e.GetNoiseSigma()),
		MaxObjects:         ptrInt(e.GetMaxObjects()),
		ObjectAmplitude:    ptrFloat64(e.GetObjectAmplitude()),
		StreakProbability:  ptrFloat64(e.GetStreakProbability()),
		PointingDropout:    ptrFloat64(e.GetPointingDropout()),
		PointingRA:         ptrFloat64(e.GetPointingRA()),
		PointingDec:        ptrFloat64(e.GetPointingDec()),
		PixelScaleDeg:      ptrFloat64(e.GetPixelScaleDeg()),
		ExposureSeconds:    ptrFloat64(e.GetExposureSeconds()),
		Telescope:          ptrString(e.GetTelescope()),
		Observer:           ptrString(e.GetObserver()),
		Seed:               ptrInt64(e.GetSeed()),
		SiteLatitude:       ptrFloat64(e.GetSiteLatitude()),
		SiteLongitude:      ptrFloat64(e.GetSiteLongitude()),
		SiteElevation:      ptrFloat64(e.GetSiteElevation()),
		DetectionSigma:     ptrFloat64(e.GetDetectionSigma()),
		MinDetectionPixels: ptrInt(e.GetMinDetectionPixels()),
		MaxDetections:      ptrInt(e.GetMaxDetections()),
		StreakElongation:   ptrFloat64(e.GetStreakElongation()),
		OrbitMinConfidence: ptrFloat64(e.GetOrbitMinConfidence()),
		StagingDir:         ptrString(e.GetStagingDir()),
		StagingRetention:   ptrInt(e.GetStagingRetention()),
		StagingQueue:       ptrInt(e.GetStagingQueue()),
		StagingDisable:     ptrBool(e.GetStagingDisable()),
		DatabasePath:       ptrString(e.GetDatabasePath()),
		RenderSize:         ptrInt(e.GetRenderSize()),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a .json, .yaml or .yml file.
// The file must be under 1MB. Fields omitted from the file keep their defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories and
// panics if the file cannot be loaded. Intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

func checkUnit(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

func checkPositive(name string, v *int) error {
	if v != nil && *v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if err := checkDuration("cycle_interval", c.CycleInterval); err != nil {
		return err
	}
	if err := checkDuration("stage_timeout", c.StageTimeout); err != nil {
		return err
	}
	for name, v := range map[string]*float64{
		"streak_probability":   c.StreakProbability,
		"pointing_dropout":     c.PointingDropout,
		"orbit_min_confidence": c.OrbitMinConfidence,
	} {
		if err := checkUnit(name, v); err != nil {
			return err
		}
	}
	for name, v := range map[string]*int{
		"image_width":    c.ImageWidth,
		"image_height":   c.ImageHeight,
		"max_detections": c.MaxDetections,
		"staging_queue":  c.StagingQueue,
		"render_size":    c.RenderSize,
	} {
		if err := checkPositive(name, v); err != nil {
			return err
		}
	}
	if c.NoiseSigma != nil && *c.NoiseSigma < 0 {
		return fmt.Errorf("noise_sigma must be non-negative, got %f", *c.NoiseSigma)
	}
	if c.DetectionSigma != nil && *c.DetectionSigma <= 0 {
		return fmt.Errorf("detection_sigma must be positive, got %f", *c.DetectionSigma)
	}
	if c.MinDetectionPixels != nil && *c.MinDetectionPixels < 1 {
		return fmt.Errorf("min_detection_pixels must be at least 1, got %d", *c.MinDetectionPixels)
	}
	if c.MaxObjects != nil && *c.MaxObjects < 0 {
		return fmt.Errorf("max_objects must be non-negative, got %d", *c.MaxObjects)
	}
	if c.StagingRetention != nil && *c.StagingRetention < 0 {
		return fmt.Errorf("staging_retention must be non-negative, got %d", *c.StagingRetention)
	}
	if c.PixelScaleDeg != nil && *c.PixelScaleDeg <= 0 {
		return fmt.Errorf("pixel_scale_deg must be positive, got %f", *c.PixelScaleDeg)
	}
	if c.SiteLatitude != nil && (*c.SiteLatitude < -90 || *c.SiteLatitude > 90) {
		return fmt.Errorf("site_latitude must be between -90 and 90, got %f", *c.SiteLatitude)
	}
	if c.PointingDec != nil && (*c.PointingDec < -90 || *c.PointingDec > 90) {
		return fmt.Errorf("pointing_dec must be between -90 and 90, got %f", *c.PointingDec)
	}
	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetCycleInterval returns the sleep between orchestrator cycles.
func (c *PipelineConfig) GetCycleInterval() time.Duration {
	return parseDurationOr(c.CycleInterval, time.Second)
}

// GetStageTimeout returns the per-stage deadline; zero means none.
func (c *PipelineConfig) GetStageTimeout() time.Duration {
	return parseDurationOr(c.StageTimeout, 0)
}

// GetImageWidth returns the image_width value or the default.
func (c *PipelineConfig) GetImageWidth() int {
	if c.ImageWidth == nil {
		return 100
	}
	return *c.ImageWidth
}

// GetImageHeight returns the image_height value or the default.
func (c *PipelineConfig) GetImageHeight() int {
	if c.ImageHeight == nil {
		return 100
	}
	return *c.ImageHeight
}

// GetBackgroundLevel returns the background_level value or the default.
func (c *PipelineConfig) GetBackgroundLevel() float64 {
	if c.BackgroundLevel == nil {
		return 100
	}
	return *c.BackgroundLevel
}

// GetNoiseSigma returns the noise_sigma value or the default.
func (c *PipelineConfig) GetNoiseSigma() float64 {
	if c.NoiseSigma == nil {
		return 8
	}
	return *c.NoiseSigma
}

// GetMaxObjects returns the max_objects value or the default.
func (c *PipelineConfig) GetMaxObjects() int {
	if c.MaxObjects == nil {
		return 4
	}
	return *c.MaxObjects
}

// GetObjectAmplitude returns the object_amplitude value or the default.
func (c *PipelineConfig) GetObjectAmplitude() float64 {
	if c.ObjectAmplitude == nil {
		return 150
	}
	return *c.ObjectAmplitude
}

// GetStreakProbability returns the streak_probability value or the default.
func (c *PipelineConfig) GetStreakProbability() float64 {
	if c.StreakProbability == nil {
		return 0.2
	}
	return *c.StreakProbability
}

// GetPointingDropout returns the pointing_dropout value or the default.
func (c *PipelineConfig) GetPointingDropout() float64 {
	if c.PointingDropout == nil {
		return 0
	}
	return *c.PointingDropout
}

// GetPointingRA returns the pointing_ra value or the default.
func (c *PipelineConfig) GetPointingRA() float64 {
	if c.PointingRA == nil {
		return 200
	}
	return *c.PointingRA
}

// GetPointingDec returns the pointing_dec value or the default.
func (c *PipelineConfig) GetPointingDec() float64 {
	if c.PointingDec == nil {
		return 30
	}
	return *c.PointingDec
}

// GetPixelScaleDeg returns the pixel_scale_deg value or the default.
func (c *PipelineConfig) GetPixelScaleDeg() float64 {
	if c.PixelScaleDeg == nil {
		return 0.0001
	}
	return *c.PixelScaleDeg
}

// GetExposureSeconds returns the exposure_seconds value or the default.
func (c *PipelineConfig) GetExposureSeconds() float64 {
	if c.ExposureSeconds == nil {
		return 30
	}
	return *c.ExposureSeconds
}

// GetTelescope returns the telescope value or the default.
func (c *PipelineConfig) GetTelescope() string {
	if c.Telescope == nil || *c.Telescope == "" {
		return "DummyScope"
	}
	return *c.Telescope
}

// GetObserver returns the observer value or the default.
func (c *PipelineConfig) GetObserver() string {
	if c.Observer == nil || *c.Observer == "" {
		return "asteroid.report"
	}
	return *c.Observer
}

// GetSeed returns the seed value or the default.
func (c *PipelineConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetSiteLatitude returns the site_latitude value or the default.
func (c *PipelineConfig) GetSiteLatitude() float64 {
	if c.SiteLatitude == nil {
		return 19.8207 // Mauna Kea
	}
	return *c.SiteLatitude
}

// GetSiteLongitude returns the site_longitude value or the default.
func (c *PipelineConfig) GetSiteLongitude() float64 {
	if c.SiteLongitude == nil {
		return -155.468
	}
	return *c.SiteLongitude
}

// GetSiteElevation returns the site_elevation value or the default.
func (c *PipelineConfig) GetSiteElevation() float64 {
	if c.SiteElevation == nil {
		return 4205
	}
	return *c.SiteElevation
}

// GetDetectionSigma returns the detection_sigma value or the default.
func (c *PipelineConfig) GetDetectionSigma() float64 {
	if c.DetectionSigma == nil {
		return 5
	}
	return *c.DetectionSigma
}

// GetMinDetectionPixels returns the min_detection_pixels value or the default.
func (c *PipelineConfig) GetMinDetectionPixels() int {
	if c.MinDetectionPixels == nil {
		return 3
	}
	return *c.MinDetectionPixels
}

// GetMaxDetections returns the max_detections value or the default.
func (c *PipelineConfig) GetMaxDetections() int {
	if c.MaxDetections == nil {
		return 32
	}
	return *c.MaxDetections
}

// GetStreakElongation returns the streak_elongation value or the default.
func (c *PipelineConfig) GetStreakElongation() float64 {
	if c.StreakElongation == nil {
		return 3
	}
	return *c.StreakElongation
}

// GetOrbitMinConfidence returns the orbit_min_confidence value or the default.
func (c *PipelineConfig) GetOrbitMinConfidence() float64 {
	if c.OrbitMinConfidence == nil {
		return 0.5
	}
	return *c.OrbitMinConfidence
}

// GetStagingDir returns the staging_dir value or the default.
func (c *PipelineConfig) GetStagingDir() string {
	if c.StagingDir == nil || *c.StagingDir == "" {
		return "staging"
	}
	return *c.StagingDir
}

// GetStagingRetention returns the staging_retention value or the default.
func (c *PipelineConfig) GetStagingRetention() int {
	if c.StagingRetention == nil {
		return 20
	}
	return *c.StagingRetention
}

// GetStagingQueue returns the staging_queue value or the default.
func (c *PipelineConfig) GetStagingQueue() int {
	if c.StagingQueue == nil {
		return 8
	}
	return *c.StagingQueue
}

// GetStagingDisable returns the staging_disable value or the default.
func (c *PipelineConfig) GetStagingDisable() bool {
	if c.StagingDisable == nil {
		return false
	}
	return *c.StagingDisable
}

// GetDatabasePath returns the database_path value or the default.
func (c *PipelineConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "asteroid.db"
	}
	return *c.DatabasePath
}

// GetRenderSize returns the render_size value or the default.
func (c *PipelineConfig) GetRenderSize() int {
	if c.RenderSize == nil {
		return 480
	}
	return *c.RenderSize
}
