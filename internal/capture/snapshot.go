package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// SnapshotOptions controls HTTP snapshot polling.
type SnapshotOptions struct {
	MaxWidth    int
	Interval    time.Duration
	MaxFailures int // consecutive failures before the source counts as lost
}

// SnapshotSource polls a camera endpoint that returns a single still per GET.
type SnapshotSource struct {
	url    string
	client *http.Client
	opts   SnapshotOptions

	mu     sync.Mutex
	active bool
}

func NewSnapshotSource(url string, client *http.Client, opts SnapshotOptions) *SnapshotSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	return &SnapshotSource{url: url, client: client, opts: opts}
}

func (s *SnapshotSource) Name() string {
	return "snapshot:" + s.url
}

func (s *SnapshotSource) Acquire(ctx context.Context) (Stream, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: snapshot source already in use", ErrDeviceUnavailable)
	}
	s.active = true
	s.mu.Unlock()

	st := &snapshotStream{src: s}
	img, err := s.fetch(ctx)
	if err != nil {
		s.release()
		if ctx.Err() == nil && !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return nil, err
	}
	st.pending = img

	logger.Info("Capture", "Snapshot source ready: %s (%dx%d)", s.url, img.Bounds().Dx(), img.Bounds().Dy())
	return st, nil
}

func (s *SnapshotSource) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// fetch maps transport and status failures onto the acquisition taxonomy.
func (s *SnapshotSource) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: snapshot returned %s", ErrPermissionDenied, resp.Status)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: snapshot returned %s", ErrDeviceUnavailable, resp.Status)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return img, nil
}

type snapshotStream struct {
	src *SnapshotSource

	mu       sync.Mutex
	pending  image.Image
	seq      uint64
	last     time.Time
	failures int
	released bool
}

func (st *snapshotStream) Next(ctx context.Context) (*types.Frame, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.released {
		return nil, ErrReleased
	}

	img := st.pending
	st.pending = nil
	if img == nil {
		if !st.last.IsZero() {
			if err := sleepCtx(ctx, st.src.opts.Interval-time.Since(st.last)); err != nil {
				return nil, err
			}
		}
		var err error
		img, err = st.src.fetch(ctx)
		st.last = time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			st.failures++
			if st.failures >= st.src.opts.MaxFailures {
				return nil, fmt.Errorf("%w: %d consecutive snapshot failures: %v", ErrSourceLost, st.failures, err)
			}
			return nil, err
		}
	}
	st.failures = 0
	st.seq++
	return newFrame(downscale(img, st.src.opts.MaxWidth), st.seq), nil
}

func (st *snapshotStream) Release() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.released {
		return nil
	}
	st.released = true
	st.pending = nil
	st.src.release()
	return nil
}
