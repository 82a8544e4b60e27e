package frames

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/asteroid.report/internal/config"
	"github.com/banshee-data/asteroid.report/internal/fits"
	"github.com/banshee-data/asteroid.report/internal/fsutil"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

var epoch = time.Date(2026, 3, 14, 22, 5, 0, 0, time.UTC)

func testConfig() SyntheticConfig {
	cfg := SyntheticConfigFrom(config.EmptyPipelineConfig())
	cfg.Seed = 7
	return cfg
}

type recordingSink struct {
	ids []string
	err error
}

func (s *recordingSink) Enqueue(f *Frame) error {
	s.ids = append(s.ids, f.ID)
	return s.err
}

func TestSyntheticSource_IdentifiersAreMonotonic(t *testing.T) {
	src, err := NewSyntheticSource(testConfig(), timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	for i, want := range []string{"f-001", "f-002", "f-003"} {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, f.ID)
		assert.Equal(t, uint64(i+1), f.Sequence)
	}
}

func TestSyntheticSource_FrameShape(t *testing.T) {
	cfg := testConfig()
	cfg.Width, cfg.Height = 64, 48
	src, err := NewSyntheticSource(cfg, timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.Pixels.Validate())
	assert.Equal(t, 64, f.Pixels.Width)
	assert.Equal(t, 48, f.Pixels.Height)
	assert.Equal(t, epoch, f.CapturedAt)
	assert.Equal(t, "DummyScope", f.Metadata.Telescope)
	assert.Equal(t, 30.0, f.Metadata.ExposureSeconds)
	require.NotNil(t, f.Metadata.Pointing)
	assert.InDelta(t, 200, f.Metadata.Pointing.RA, 0.01)
	assert.InDelta(t, 30, f.Metadata.Pointing.Dec, 0.01)
	assert.NotEmpty(t, f.Injected)
	assert.LessOrEqual(t, len(f.Injected), cfg.MaxObjects)
}

func TestSyntheticSource_SameSeedSamePixels(t *testing.T) {
	a, _ := NewSyntheticSource(testConfig(), timeutil.NewMockClock(epoch))
	b, _ := NewSyntheticSource(testConfig(), timeutil.NewMockClock(epoch))
	fa, _ := a.Next(context.Background())
	fb, _ := b.Next(context.Background())
	assert.Equal(t, fa.Pixels.Pixels, fb.Pixels.Pixels)
}

func TestSyntheticSource_NoObjects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxObjects = 0
	src, _ := NewSyntheticSource(cfg, timeutil.NewMockClock(epoch))
	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.Injected)
}

func TestSyntheticSource_PointingDropout(t *testing.T) {
	cfg := testConfig()
	cfg.PointingDropout = 1
	src, _ := NewSyntheticSource(cfg, timeutil.NewMockClock(epoch))
	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f.Metadata.Pointing)
	assert.False(t, f.Header().Has("RA_PNT"))
}

func TestSyntheticSource_SinkFailureDoesNotAbort(t *testing.T) {
	src, _ := NewSyntheticSource(testConfig(), timeutil.NewMockClock(epoch))
	sink := &recordingSink{err: errors.New("disk full")}
	src.SetSink(sink)

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{f.ID}, sink.ids)
}

func TestSyntheticSource_CancelledContext(t *testing.T) {
	src, _ := NewSyntheticSource(testConfig(), timeutil.NewMockClock(epoch))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSyntheticSource_InvalidSize(t *testing.T) {
	cfg := testConfig()
	cfg.Width = 0
	_, err := NewSyntheticSource(cfg, nil)
	assert.Error(t, err)
}

func TestFrameHeader_RoundTripsThroughFITS(t *testing.T) {
	src, _ := NewSyntheticSource(testConfig(), timeutil.NewMockClock(epoch))
	f, _ := src.Next(context.Background())

	var buf bytes.Buffer
	require.NoError(t, fits.Encode(&buf, f.Header(), f.Pixels))
	h, img, err := fits.Decode(&buf)
	require.NoError(t, err)

	back := FromFITS("f-100", 100, h, img, time.Time{})
	assert.Equal(t, f.CapturedAt, back.CapturedAt)
	assert.Equal(t, f.Metadata.Telescope, back.Metadata.Telescope)
	assert.Equal(t, f.Metadata.ExposureSeconds, back.Metadata.ExposureSeconds)
	require.NotNil(t, back.Metadata.Pointing)
	assert.InDelta(t, f.Metadata.Pointing.RA, back.Metadata.Pointing.RA, 1e-9)
	assert.InDelta(t, f.Metadata.Site.Elevation, back.Metadata.Site.Elevation, 1e-9)
	assert.Equal(t, f.Pixels.Width, img.Width)
}

func writeFITS(t *testing.T, fs fsutil.FileSystem, path string, f *Frame) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, fits.Encode(&buf, f.Header(), f.Pixels))
	require.NoError(t, fs.WriteFile(path, buf.Bytes(), 0o644))
}

func TestReplaySource(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/replay", 0o755))
	src, _ := NewSyntheticSource(testConfig(), timeutil.NewMockClock(epoch))
	for _, name := range []string{"b.fits", "a.fits"} {
		f, _ := src.Next(context.Background())
		writeFITS(t, mfs, "/replay/"+name, f)
	}
	require.NoError(t, mfs.WriteFile("/replay/notes.txt", []byte("x"), 0o644))

	t.Run("once", func(t *testing.T) {
		r, err := NewReplaySource(mfs, "/replay", false, timeutil.NewMockClock(epoch))
		require.NoError(t, err)
		assert.Equal(t, 2, r.Len())

		f1, err := r.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "f-001", f1.ID)
		assert.Equal(t, "/replay/a.fits", f1.Origin)

		_, err = r.Next(context.Background())
		require.NoError(t, err)
		_, err = r.Next(context.Background())
		assert.ErrorIs(t, err, ErrExhausted)
	})

	t.Run("loop", func(t *testing.T) {
		r, err := NewReplaySource(mfs, "/replay", true, nil)
		require.NoError(t, err)
		var ids []string
		for range 3 {
			f, err := r.Next(context.Background())
			require.NoError(t, err)
			ids = append(ids, f.ID)
		}
		assert.Equal(t, []string{"f-001", "f-002", "f-003"}, ids)
	})

	t.Run("corrupt file", func(t *testing.T) {
		bad := fsutil.NewMemoryFileSystem()
		require.NoError(t, bad.MkdirAll("/bad", 0o755))
		require.NoError(t, bad.WriteFile("/bad/x.fits", []byte("not fits"), 0o644))
		r, err := NewReplaySource(bad, "/bad", false, nil)
		require.NoError(t, err)
		_, err = r.Next(context.Background())
		assert.Error(t, err)
	})

	t.Run("empty directory", func(t *testing.T) {
		empty := fsutil.NewMemoryFileSystem()
		require.NoError(t, empty.MkdirAll("/empty", 0o755))
		_, err := NewReplaySource(empty, "/empty", false, nil)
		assert.Error(t, err)
	})
}
