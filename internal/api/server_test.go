package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/asteroid.report/internal/astro"
	"github.com/banshee-data/asteroid.report/internal/db"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
	"github.com/banshee-data/asteroid.report/internal/staging"
)

type fixedLatest struct{ res pipeline.Result }

func (f fixedLatest) Latest() pipeline.Result { return f.res.Clone() }

type fixedStats struct{ st pipeline.Stats }

func (f fixedStats) Stats() pipeline.Stats { return f.st }

type fixedStaging struct{ st staging.Stats }

func (f fixedStaging) Stats() staging.Stats { return f.st }

type fakeLister struct {
	records []db.FrameRecord
	err     error
	gotRun  string
	gotN    int
}

func (f *fakeLister) ListFrames(_ context.Context, runID string, limit int) ([]db.FrameRecord, error) {
	f.gotRun, f.gotN = runID, limit
	return f.records, f.err
}

func successResult() pipeline.Result {
	return pipeline.Result{
		Status:  pipeline.StatusSuccess,
		FrameID: "f-001",
		Cycle:   1,
		Image:   base64.StdEncoding.EncodeToString([]byte("\x89PNG")),
		Detections: []astro.Detection{
			{X: 10, Y: 20, Confidence: 0.9, Flux: 100, Pixels: 9},
		},
		Orbits: []astro.OrbitalElement{{Detection: 0, RA: 200, Dec: 30, Confidence: 0.9}},
	}
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLatest_Pending(t *testing.T) {
	s := NewServer(pipeline.NewQuery(pipeline.NewStore()), nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/api/latest")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, []any{}, body["detections"])
	assert.Equal(t, []any{}, body["orbits"])
	assert.Equal(t, "", body["error"])
}

func TestLatest_Success(t *testing.T) {
	s := NewServer(fixedLatest{successResult()}, nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/api/latest")

	require.Equal(t, http.StatusOK, w.Code)
	var got pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, pipeline.StatusSuccess, got.Status)
	assert.Equal(t, "f-001", got.FrameID)
	assert.Len(t, got.Detections, 1)
	assert.Len(t, got.Orbits, 1)
}

func TestLatest_MethodNotAllowed(t *testing.T) {
	s := NewServer(fixedLatest{successResult()}, nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodPost, "/api/latest")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestLatestImage(t *testing.T) {
	s := NewServer(fixedLatest{successResult()}, nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/api/latest/image.png")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "f-001", w.Header().Get("X-Frame-ID"))
	assert.Equal(t, "\x89PNG", w.Body.String())
}

func TestLatestImage_NoImage(t *testing.T) {
	s := NewServer(pipeline.NewQuery(pipeline.NewStore()), nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/api/latest/image.png")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatestImage_Corrupt(t *testing.T) {
	res := successResult()
	res.Image = "!!not base64!!"
	s := NewServer(fixedLatest{res}, nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/api/latest/image.png")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatus(t *testing.T) {
	stats := fixedStats{pipeline.Stats{RunID: "run-1", State: "sleeping", Cycles: 3}}
	stg := fixedStaging{staging.Stats{Written: 2}}
	s := NewServer(fixedLatest{successResult()}, stats, stg, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/api/status")

	require.Equal(t, http.StatusOK, w.Code)
	var got StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, pipeline.StatusSuccess, got.Status)
	assert.Equal(t, "f-001", got.FrameID)
	require.NotNil(t, got.Orchestrator)
	assert.Equal(t, "run-1", got.Orchestrator.RunID)
	assert.Equal(t, uint64(3), got.Orchestrator.Cycles)
	require.NotNil(t, got.Staging)
	assert.Equal(t, uint64(2), got.Staging.Written)
}

func TestStatus_OptionalProvidersOmitted(t *testing.T) {
	s := NewServer(fixedLatest{successResult()}, nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/api/status")

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "orchestrator")
	assert.NotContains(t, w.Body.String(), "staging")
}

func TestFrames(t *testing.T) {
	lister := &fakeLister{records: []db.FrameRecord{{RunID: "run-1", FrameID: "f-001"}}}
	s := NewServer(fixedLatest{successResult()}, nil, nil, lister)

	w := do(t, s.ServeMux(), http.MethodGet, "/api/frames?limit=5&run=run-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-1", lister.gotRun)
	assert.Equal(t, 5, lister.gotN)
	assert.Contains(t, w.Body.String(), "f-001")
}

func TestFrames_Errors(t *testing.T) {
	t.Run("catalog disabled", func(t *testing.T) {
		s := NewServer(fixedLatest{successResult()}, nil, nil, nil)
		w := do(t, s.ServeMux(), http.MethodGet, "/api/frames")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
	t.Run("bad limit", func(t *testing.T) {
		s := NewServer(fixedLatest{successResult()}, nil, nil, &fakeLister{})
		for _, q := range []string{"abc", "0", "1001"} {
			w := do(t, s.ServeMux(), http.MethodGet, "/api/frames?limit="+q)
			assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", q)
		}
	})
	t.Run("lister failure", func(t *testing.T) {
		s := NewServer(fixedLatest{successResult()}, nil, nil, &fakeLister{err: errors.New("disk")})
		w := do(t, s.ServeMux(), http.MethodGet, "/api/frames")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
	t.Run("empty list", func(t *testing.T) {
		s := NewServer(fixedLatest{successResult()}, nil, nil, &fakeLister{})
		w := do(t, s.ServeMux(), http.MethodGet, "/api/frames")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
	})
}

func TestDetectionChart(t *testing.T) {
	s := NewServer(fixedLatest{successResult()}, nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/charts/detections")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "f-001")
}

func TestDetectionChart_Pending(t *testing.T) {
	s := NewServer(pipeline.NewQuery(pipeline.NewStore()), nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/charts/detections")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "no frame processed yet")
}

func TestHealthz(t *testing.T) {
	s := NewServer(fixedLatest{successResult()}, nil, nil, nil)
	w := do(t, s.ServeMux(), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "asteroid.report", body["service"])
}

func TestLoggingMiddleware_PassesStatus(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := do(t, h, http.MethodGet, "/brew")
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "101", statusCodeColor(101))
}

type stateVar struct{ v atomic.Int32 }

func (s *stateVar) State() pipeline.State { return pipeline.State(s.v.Load()) }

func TestGRPCHealth_Sync(t *testing.T) {
	sv := &stateVar{}
	g := NewGRPCHealth(sv, time.Second)
	ctx := context.Background()

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, g.Sync())
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	sv.v.Store(int32(pipeline.StateSleeping))
	g.Sync()
	resp, err = g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	sv.v.Store(int32(pipeline.StateStopped))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, g.Sync())
}

func TestGRPCHealth_ServeStopsOnCancel(t *testing.T) {
	g := NewGRPCHealth(&stateVar{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
