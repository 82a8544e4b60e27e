package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/asteroid.report/internal/api"
	"github.com/banshee-data/asteroid.report/internal/fsutil"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

var (
	serveListen     string
	serveGRPCListen string
	serveReplay     string
	serveLoop       bool
	serveTrace      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline loop and serve the latest result",
	Long: `Runs the orchestrator until interrupted. Every cycle takes one frame
from the source, runs it through the stage chain and publishes the outcome.
GET /api/latest returns the most recent result; /debug/ has the catalog
SQL console and loop counters.

On SIGINT or SIGTERM the in-flight traversal finishes and is published
before the process exits.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveGRPCListen, "grpc-listen", "", "gRPC health listen address (disabled when empty)")
	serveCmd.Flags().StringVar(&serveReplay, "replay", "", "replay FITS frames from this directory instead of generating them")
	serveCmd.Flags().BoolVar(&serveLoop, "loop", true, "restart the replay from the first file when exhausted")
	serveCmd.Flags().BoolVar(&serveTrace, "trace", false, "enable per-stage trace logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	setLogWriters(os.Stderr, serveTrace)

	fs := fsutil.OSFileSystem{}
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, fs, timeutil.RealClock{}, sourceOptions{replayDir: serveReplay, loop: serveLoop})
	if err != nil {
		return err
	}
	defer a.Close()

	mux := a.serveMux()
	if a.catalog != nil {
		debug, err := a.catalog.AttachAdminRoutes(mux)
		if err != nil {
			return err
		}
		debug.KVFunc("Pipeline", func() any { return a.orch.Stats() })
		debug.KVFunc("Staging", func() any { return a.stager.Stats() })
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("asteroidd %s run %s: interval %s, stages %v", rootCmd.Version, a.orch.RunID(), cfg.GetCycleInterval(), a.orch.Stats().Stages)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.orch.Run(gctx)
	})
	if a.stager != nil {
		g.Go(func() error {
			return a.stager.Run(gctx)
		})
	}
	g.Go(func() error {
		return serveHTTP(gctx, serveListen, api.LoggingMiddleware(mux))
	})
	if serveGRPCListen != "" {
		health := api.NewGRPCHealth(a.orch, time.Second)
		g.Go(func() error {
			return health.Serve(gctx, serveGRPCListen)
		})
	}

	err = g.Wait()
	log.Printf("shutdown complete: %+v", a.orch.Stats())
	return err
}

// serveMux mounts the read API for a.
func (a *app) serveMux() *http.ServeMux {
	var (
		stats   api.StatsProvider = a.orch
		stagers api.StagingStats
		lister  api.FrameLister
	)
	if a.stager != nil {
		stagers = a.stager
	}
	if a.catalog != nil {
		lister = a.catalog
	}
	return api.NewServer(a.query, stats, stagers, lister).ServeMux()
}

// serveHTTP runs an HTTP server on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("failed to shut down server: %v", err)
	}
	return nil
}
