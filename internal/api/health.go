package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

// HealthService is the gRPC service name whose status tracks the
// orchestrator loop.
const HealthService = "asteroid.report.Pipeline"

// StateReader exposes the orchestrator loop position.
type StateReader interface {
	State() pipeline.State
}

// servingStatus maps a loop position to a health status. A stopped or
// never-started loop is not serving.
func servingStatus(s pipeline.State) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case pipeline.StateIdle, pipeline.StateStopped:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_SERVING
	}
}

// GRPCHealth serves the standard gRPC health protocol for the pipeline.
type GRPCHealth struct {
	state    StateReader
	health   *health.Server
	server   *grpc.Server
	interval time.Duration
}

// NewGRPCHealth returns a health server polling state every interval.
func NewGRPCHealth(state StateReader, interval time.Duration) *GRPCHealth {
	if interval <= 0 {
		interval = time.Second
	}
	hs := health.NewServer()
	srv := grpc.NewServer(grpc.MaxRecvMsgSize(1 << 20))
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCHealth{state: state, health: hs, server: srv, interval: interval}
}

// Sync updates both the pipeline service and the overall ("") status.
func (g *GRPCHealth) Sync() healthpb.HealthCheckResponse_ServingStatus {
	st := servingStatus(g.state.State())
	g.health.SetServingStatus(HealthService, st)
	g.health.SetServingStatus("", st)
	return st
}

// Serve listens on addr until ctx is cancelled.
func (g *GRPCHealth) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is cancelled, then shuts down
// gracefully.
func (g *GRPCHealth) ServeListener(ctx context.Context, lis net.Listener) error {
	g.Sync()
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.server.Serve(lis)
	}()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.health.Shutdown()
			g.server.GracefulStop()
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			g.Sync()
		}
	}
}
