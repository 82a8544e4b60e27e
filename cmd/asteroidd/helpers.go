package main

import (
	"fmt"
	"io"

	"github.com/banshee-data/asteroid.report/internal/config"
	"github.com/banshee-data/asteroid.report/internal/db"
	"github.com/banshee-data/asteroid.report/internal/frames"
	"github.com/banshee-data/asteroid.report/internal/fsutil"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
	"github.com/banshee-data/asteroid.report/internal/render"
	"github.com/banshee-data/asteroid.report/internal/stages"
	"github.com/banshee-data/asteroid.report/internal/staging"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

const defaultConfigHint = config.DefaultConfigPath + " or built-in defaults"

// loadConfig reads --config, falling back to the defaults file when it
// exists and to the built-in values otherwise.
func loadConfig(fs fsutil.FileSystem) (*config.PipelineConfig, error) {
	path := configPath
	if path == "" {
		if !fs.Exists(config.DefaultConfigPath) {
			return config.DefaultPipelineConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setLogWriters routes every package's ops and diag streams to stderr.
// Per-stage trace output is only enabled on request.
func setLogWriters(w io.Writer, trace bool) {
	var tw io.Writer
	if trace {
		tw = w
	}
	frames.SetLogWriters(w, w, tw)
	pipeline.SetLogWriters(w, w, tw)
	stages.SetLogWriters(w, w, tw)
	staging.SetLogWriters(w, w, tw)
	db.SetLogWriters(w, w, tw)
}

type sourceOptions struct {
	replayDir string
	loop      bool
}

// frameSource is the pipeline.FrameSource that can also feed a sink.
type frameSource interface {
	pipeline.FrameSource
	SetSink(frames.Sink)
}

func newSource(cfg *config.PipelineConfig, fs fsutil.FileSystem, clock timeutil.Clock, opts sourceOptions) (frameSource, error) {
	if opts.replayDir != "" {
		src, err := frames.NewReplaySource(fs, opts.replayDir, opts.loop, clock)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	src, err := frames.NewSyntheticSource(frames.SyntheticConfigFrom(cfg), clock)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// app is one fully wired pipeline instance.
type app struct {
	cfg     *config.PipelineConfig
	source  frameSource
	store   *pipeline.Store
	query   *pipeline.Query
	orch    *pipeline.Orchestrator
	stager  *staging.Stager // nil when staging is disabled
	catalog *db.DB          // nil when staging is disabled
}

// newApp wires source, chain, store and the optional staging sink.
func newApp(cfg *config.PipelineConfig, fs fsutil.FileSystem, clock timeutil.Clock, opts sourceOptions) (*app, error) {
	src, err := newSource(cfg, fs, clock, opts)
	if err != nil {
		return nil, fmt.Errorf("frame source: %w", err)
	}
	store := pipeline.NewStore()
	orch := pipeline.NewOrchestrator(src, stages.NewChain(cfg), store, pipeline.Options{
		Interval: cfg.GetCycleInterval(),
		Clock:    clock,
		Renderer: render.New(cfg.GetRenderSize()),
	})
	a := &app{
		cfg:    cfg,
		source: src,
		store:  store,
		query:  pipeline.NewQuery(store),
		orch:   orch,
	}
	if cfg.GetStagingDisable() {
		return a, nil
	}

	catalog, err := db.NewDB(cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a.catalog = catalog
	a.stager = staging.New(staging.Config{
		Dir:       cfg.GetStagingDir(),
		QueueSize: cfg.GetStagingQueue(),
		Retention: cfg.GetStagingRetention(),
		RunID:     orch.RunID(),
	}, fs, catalog, clock)
	src.SetSink(a.stager)
	return a, nil
}

func (a *app) Close() error {
	if a.catalog != nil {
		return a.catalog.Close()
	}
	return nil
}

func openCatalog() (*db.DB, error) {
	cfg, err := loadConfig(fsutil.OSFileSystem{})
	if err != nil {
		return nil, err
	}
	return db.NewDB(cfg.GetDatabasePath())
}
