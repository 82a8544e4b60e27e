// Package api is the HTTP and gRPC transport in front of the pipeline.
// Handlers only read: the latest result comes through the pipeline
// Query, never the store directly.
package api

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/asteroid.report/internal/db"
	"github.com/banshee-data/asteroid.report/internal/httputil"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
	"github.com/banshee-data/asteroid.report/internal/staging"
	"github.com/banshee-data/asteroid.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// LatestReader is the read side of the result store.
type LatestReader interface {
	Latest() pipeline.Result
}

// StatsProvider reports orchestrator counters.
type StatsProvider interface {
	Stats() pipeline.Stats
}

// StagingStats reports staging counters.
type StagingStats interface {
	Stats() staging.Stats
}

// FrameLister reads the staging catalog.
type FrameLister interface {
	ListFrames(ctx context.Context, runID string, limit int) ([]db.FrameRecord, error)
}

// Server serves the pipeline's read API. Only Latest is required; the
// other collaborators are optional and their endpoints degrade when
// absent.
type Server struct {
	latest  LatestReader
	stats   StatsProvider
	staging StagingStats
	frames  FrameLister
}

// NewServer returns a Server reading results from latest.
func NewServer(latest LatestReader, stats StatsProvider, stagingStats StagingStats, frames FrameLister) *Server {
	return &Server{
		latest:  latest,
		stats:   stats,
		staging: stagingStats,
		frames:  frames,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the routes served by s.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/latest/image.png", s.handleLatestImage)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/charts/detections", s.handleDetectionChart)
	return mux
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "asteroid.report",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	httputil.NoStore(w)
	httputil.WriteJSONOK(w, s.latest.Latest())
}

func (s *Server) handleLatestImage(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	res := s.latest.Latest()
	if res.Image == "" {
		httputil.NotFound(w, "no image for "+string(res.Status)+" result")
		return
	}
	png, err := base64.StdEncoding.DecodeString(res.Image)
	if err != nil {
		httputil.InternalServerError(w, "corrupt image payload")
		return
	}
	httputil.NoStore(w)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Frame-ID", res.FrameID)
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Version      string          `json:"version"`
	GitSHA       string          `json:"git_sha"`
	Status       pipeline.Status `json:"status"`
	FrameID      string          `json:"frame_id"`
	Orchestrator *pipeline.Stats `json:"orchestrator,omitempty"`
	Staging      *staging.Stats  `json:"staging,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	res := s.latest.Latest()
	resp := StatusResponse{
		Version: version.Version,
		GitSHA:  version.GitSHA,
		Status:  res.Status,
		FrameID: res.FrameID,
	}
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Orchestrator = &st
	}
	if s.staging != nil {
		st := s.staging.Stats()
		resp.Staging = &st
	}
	httputil.NoStore(w)
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	if s.frames == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "frame catalog disabled")
		return
	}
	limit := 50 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	records, err := s.frames.ListFrames(r.Context(), r.URL.Query().Get("run"), limit)
	if err != nil {
		log.Printf("list frames: %v", err)
		httputil.InternalServerError(w, "failed to list frames")
		return
	}
	if records == nil {
		records = []db.FrameRecord{}
	}
	httputil.WriteJSONOK(w, records)
}
