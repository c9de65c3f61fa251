package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

var stillExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// DirOptions controls still-image replay.
type DirOptions struct {
	Loop     bool
	MaxWidth int
	Interval time.Duration
}

// DirSource replays still images from a directory in name order.
type DirSource struct {
	dir  string
	opts DirOptions

	mu     sync.Mutex
	active bool
}

func NewDirSource(dir string, opts DirOptions) *DirSource {
	return &DirSource{dir: dir, opts: opts}
}

func (s *DirSource) Name() string {
	return "dir:" + s.dir
}

func (s *DirSource) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, s.dir)
		default:
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !stillExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrDeviceUnavailable, s.dir)
	}
	sort.Strings(files)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil, fmt.Errorf("%w: %s already in use", ErrDeviceUnavailable, s.dir)
	}
	s.active = true

	logger.Info("Capture", "Replaying %d stills from %s (loop=%v)", len(files), s.dir, s.opts.Loop)
	return &dirStream{src: s, files: files}, nil
}

func (s *DirSource) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

type dirStream struct {
	src   *DirSource
	files []string

	mu       sync.Mutex
	idx      int
	seq      uint64
	last     time.Time
	released bool
}

func (st *dirStream) Next(ctx context.Context) (*types.Frame, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.released {
		return nil, ErrReleased
	}
	if st.idx >= len(st.files) {
		if !st.src.opts.Loop {
			return nil, fmt.Errorf("%w: replay finished", ErrSourceLost)
		}
		st.idx = 0
	}

	if !st.last.IsZero() {
		if err := sleepCtx(ctx, st.src.opts.Interval-time.Since(st.last)); err != nil {
			return nil, err
		}
	}
	st.last = time.Now()

	path := st.files[st.idx]
	st.idx++

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	st.seq++
	return newFrame(downscale(img, st.src.opts.MaxWidth), st.seq), nil
}

func (st *dirStream) Release() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.released {
		return nil
	}
	st.released = true
	st.src.release()
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
