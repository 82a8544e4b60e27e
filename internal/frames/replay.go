package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/banshee-data/asteroid.report/internal/fits"
	"github.com/banshee-data/asteroid.report/internal/fsutil"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

// ErrExhausted is returned by a non-looping replay source once every
// file has been delivered.
var ErrExhausted = errors.New("frames: replay exhausted")

// ReplaySource serves the FITS files of a directory in name order.
// Identifiers are assigned per delivery, so a looping replay never
// reuses one.
type ReplaySource struct {
	fs    fsutil.FileSystem
	files []string
	loop  bool
	clock timeutil.Clock

	mu   sync.Mutex
	next int
	seq  uint64
	sink Sink
}

// NewReplaySource lists dir for *.fits files.
func NewReplaySource(fs fsutil.FileSystem, dir string, loop bool, clock timeutil.Clock) (*ReplaySource, error) {
	files, err := fs.List(dir, ".fits")
	if err != nil {
		return nil, fmt.Errorf("list replay directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .fits files in %s", dir)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	diagf("replaying %d files from %s (loop=%v)", len(files), dir, loop)
	return &ReplaySource{fs: fs, files: files, loop: loop, clock: clock}, nil
}

// SetSink attaches the persistence hand-off. Pass nil to detach.
func (r *ReplaySource) SetSink(sink Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Len returns the number of files being replayed.
func (r *ReplaySource) Len() int { return len(r.files) }

// Next decodes the next file. A file that fails to decode is returned
// as an error and skipped on the following call.
func (r *ReplaySource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.files) {
		if !r.loop {
			return nil, ErrExhausted
		}
		r.next = 0
	}
	path := r.files[r.next]
	r.next++

	data, err := r.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	h, img, err := fits.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	r.seq++
	f := FromFITS(FrameID(r.seq), r.seq, h, img, r.clock.Now().UTC())
	f.Origin = path
	tracef("replayed %s from %s", f.ID, filepath.Base(path))
	handOff(r.sink, f)
	return f, nil
}
