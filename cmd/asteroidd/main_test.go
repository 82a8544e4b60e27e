package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/asteroid.report/internal/config"
	"github.com/banshee-data/asteroid.report/internal/fits"
	"github.com/banshee-data/asteroid.report/internal/fsutil"
	"github.com/banshee-data/asteroid.report/internal/httputil"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

func testConfig(t *testing.T, staging bool) *config.PipelineConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultPipelineConfig()
	stagingDir := filepath.Join(dir, "staging")
	dbPath := filepath.Join(dir, "catalog.db")
	disable := !staging
	seed := int64(7)
	cfg.StagingDir = &stagingDir
	cfg.DatabasePath = &dbPath
	cfg.StagingDisable = &disable
	cfg.Seed = &seed
	return cfg
}

func TestApp_CyclesWithStaging(t *testing.T) {
	cfg := testConfig(t, true)
	fs := fsutil.OSFileSystem{}
	a, err := newApp(cfg, fs, timeutil.RealClock{}, sourceOptions{})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.stager)

	results, err := a.cycles(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, []string{"f-001", "f-002", "f-003"}[i], r.FrameID)
		assert.Equal(t, pipeline.StatusSuccess, r.Status, r.Error)
		assert.NotEmpty(t, r.Image)
	}
	assert.Equal(t, results[2].FrameID, a.query.Latest().FrameID)

	assert.Equal(t, uint64(3), a.stager.Stats().Written)
	n, err := a.catalog.CountFrames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	files, err := fs.List(cfg.GetStagingDir(), ".fits")
	require.NoError(t, err)
	require.Len(t, files, 3)

	var out bytes.Buffer
	require.NoError(t, inspectFile(&out, fs, files[0]))
	assert.Contains(t, out.String(), "FRAMEID")
	assert.Contains(t, out.String(), "f-001")
	assert.Contains(t, out.String(), "100x100")

	records, err := a.catalog.ListFrames(context.Background(), a.orch.RunID(), 10)
	require.NoError(t, err)
	out.Reset()
	printFrames(&out, records)
	assert.Contains(t, out.String(), "f-003")
}

func TestApp_StagingDisabled(t *testing.T) {
	cfg := testConfig(t, false)
	a, err := newApp(cfg, fsutil.OSFileSystem{}, timeutil.RealClock{}, sourceOptions{})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.stager)
	assert.Nil(t, a.catalog)

	results, err := a.cycles(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	var out bytes.Buffer
	printResults(&out, results)
	assert.Contains(t, out.String(), "f-001")
	assert.Contains(t, out.String(), "success")
}

func TestApp_ReplayExhaustedEndsRun(t *testing.T) {
	cfg := testConfig(t, false)
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.MkdirAll("frames", 0o755))

	h := fits.Header{}
	h.Set("RA_PNT", 200.0)
	h.Set("DEC_PNT", 30.0)
	img := fits.Image{Width: 4, Height: 4, Pixels: make([]float64, 16)}
	var buf bytes.Buffer
	require.NoError(t, fits.Encode(&buf, h, img))
	require.NoError(t, fs.WriteFile("frames/a.fits", buf.Bytes(), 0o644))

	a, err := newApp(cfg, fs, timeutil.RealClock{}, sourceOptions{replayDir: "frames"})
	require.NoError(t, err)
	defer a.Close()

	results, err := a.cycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestServeMux_Latest(t *testing.T) {
	cfg := testConfig(t, false)
	a, err := newApp(cfg, fsutil.OSFileSystem{}, timeutil.RealClock{}, sourceOptions{})
	require.NoError(t, err)
	defer a.Close()
	_, err = a.cycles(context.Background(), 1)
	require.NoError(t, err)

	srv := httptest.NewServer(a.serveMux())
	defer srv.Close()

	res, err := fetchLatest(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "f-001", res.FrameID)

	resp, err := srv.Client().Get(srv.URL + "/api/frames")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFetchLatest_ServerError(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(http.StatusInternalServerError, `{"error":"boom"}`)
	_, err := fetchLatest(context.Background(), client, "http://example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFetchLatest_Decodes(t *testing.T) {
	body, err := json.Marshal(pipeline.PendingResult())
	require.NoError(t, err)
	client := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, string(body))

	res, err := fetchLatest(context.Background(), client, "http://example")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPending, res.Status)
	require.Len(t, client.Requests, 1)
	assert.Equal(t, "/api/latest", client.Requests[0].URL.Path)
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	fs := fsutil.OSFileSystem{}
	require.NoError(t, fs.WriteFile(path, []byte("max_objects: 2\n"), 0o644))

	old := configPath
	configPath = path
	defer func() { configPath = old }()

	cfg, err := loadConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.GetMaxObjects())
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "once", "inspect", "frames", "migrate", "latest"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}
