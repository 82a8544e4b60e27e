// Package staging persists generated frames to a directory as FITS files
// for inspection. Persistence is best-effort: frames are queued without
// blocking the producer, and write failures are logged and counted.
package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/asteroid.report/internal/db"
	"github.com/banshee-data/asteroid.report/internal/fits"
	"github.com/banshee-data/asteroid.report/internal/frames"
	"github.com/banshee-data/asteroid.report/internal/fsutil"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

// ErrQueueFull is returned by Enqueue when the writer is behind.
var ErrQueueFull = errors.New("staging queue full")

// ErrClosed is returned by Enqueue after Run has returned.
var ErrClosed = errors.New("staging closed")

// Catalog records staged frames. *db.DB implements it.
type Catalog interface {
	RecordFrame(ctx context.Context, r db.FrameRecord) error
	MarkPruned(ctx context.Context, path string, at time.Time) (int64, error)
}

// Config controls a Stager.
type Config struct {
	Dir       string
	QueueSize int
	Retention int // newest files kept on disk; 0 keeps everything
	RunID     string
}

// Stats counts staging outcomes.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Pruned  uint64 `json:"pruned"`
}

// Stager is the fire-and-forget frame sink.
type Stager struct {
	cfg     Config
	fs      fsutil.FileSystem
	catalog Catalog
	clock   timeutil.Clock
	queue   chan *frames.Frame

	mu     sync.Mutex // orders Enqueue sends against close
	closed bool

	queued, written, dropped, failed, pruned atomic.Uint64
}

// New returns a Stager. catalog may be nil.
func New(cfg Config, fs fsutil.FileSystem, catalog Catalog, clock timeutil.Clock) *Stager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Stager{
		cfg:     cfg,
		fs:      fs,
		catalog: catalog,
		clock:   clock,
		queue:   make(chan *frames.Frame, cfg.QueueSize),
	}
}

// Enqueue hands f to the writer without blocking.
func (s *Stager) Enqueue(f *frames.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- f:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run writes queued frames until ctx is done, then drains what is
// already queued.
func (s *Stager) Run(ctx context.Context) error {
	if err := s.fs.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		opsf("create staging dir %s: %v", s.cfg.Dir, err)
	}
	for {
		select {
		case f := <-s.queue:
			s.Write(ctx, f)
		case <-ctx.Done():
			// Once closed under the lock no send can follow, so the
			// drain below sees every accepted frame.
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case f := <-s.queue:
					s.Write(drain, f)
				default:
					diagf("staging stopped: %+v", s.Stats())
					return nil
				}
			}
		}
	}
}

// Write persists one frame synchronously. Failures are logged and
// counted, never returned.
func (s *Stager) Write(ctx context.Context, f *frames.Frame) {
	path, size, err := s.writeFile(f)
	if err != nil {
		s.failed.Add(1)
		opsf("stage %s: %v", f.ID, err)
		return
	}
	s.written.Add(1)
	tracef("staged %s to %s (%d bytes)", f.ID, path, size)

	if s.catalog != nil {
		rec := db.FrameRecord{
			RunID:      s.cfg.RunID,
			FrameID:    f.ID,
			Sequence:   f.Sequence,
			Path:       path,
			CapturedAt: f.CapturedAt,
			Width:      f.Pixels.Width,
			Height:     f.Pixels.Height,
			Injected:   len(f.Injected),
			SizeBytes:  size,
		}
		if err := s.catalog.RecordFrame(ctx, rec); err != nil {
			opsf("catalog %s: %v", f.ID, err)
		}
	}
	s.prune(ctx)
}

// FileName returns the staging name for f. Names sort by capture time.
func FileName(f *frames.Frame) string {
	return fmt.Sprintf("%s-%s.fits", f.CapturedAt.UTC().Format("20060102T150405.000Z"), f.ID)
}

func (s *Stager) writeFile(f *frames.Frame) (string, int64, error) {
	var buf bytes.Buffer
	if err := fits.Encode(&buf, f.Header(), f.Pixels); err != nil {
		return "", 0, fmt.Errorf("encode: %w", err)
	}
	path := filepath.Join(s.cfg.Dir, FileName(f))
	if err := s.fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", 0, err
	}
	return path, int64(buf.Len()), nil
}

// prune removes the oldest files beyond the retention limit.
func (s *Stager) prune(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return
	}
	files, err := s.fs.List(s.cfg.Dir, ".fits")
	if err != nil {
		opsf("list staging dir: %v", err)
		return
	}
	excess := len(files) - s.cfg.Retention
	for i := 0; i < excess; i++ {
		if err := s.fs.Remove(files[i]); err != nil {
			opsf("prune %s: %v", files[i], err)
			continue
		}
		s.pruned.Add(1)
		if s.catalog != nil {
			if _, err := s.catalog.MarkPruned(ctx, files[i], s.clock.Now()); err != nil {
				opsf("catalog prune %s: %v", files[i], err)
			}
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *Stager) Stats() Stats {
	return Stats{
		Queued:  s.queued.Load(),
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
		Pruned:  s.pruned.Load(),
	}
}
