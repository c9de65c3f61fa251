package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// RemoteSource is a single-slot mailbox fed by an upstream publisher (the
// detection ingest). Only the newest frame is kept; older unread frames are
// overwritten.
type RemoteSource struct {
	mu       sync.Mutex
	frame    *types.Frame
	seq      uint64
	dropped  uint64
	notify   chan struct{}
	stream   *remoteStream
	lostNote string
}

func NewRemoteSource() *RemoteSource {
	return &RemoteSource{notify: make(chan struct{}, 1)}
}

func (s *RemoteSource) Name() string {
	return "remote"
}

// Publish replaces the pending frame and wakes the consumer.
func (s *RemoteSource) Publish(frame *types.Frame) {
	s.mu.Lock()
	if s.frame != nil {
		s.dropped++
	}
	s.seq++
	frame.FrameNum = s.seq
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	s.frame = frame
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Lost marks the active stream as lost, e.g. when the publishing peer
// disconnects. It is a no-op when no stream is held.
func (s *RemoteSource) Lost(reason string) {
	s.mu.Lock()
	if s.stream == nil {
		s.mu.Unlock()
		return
	}
	s.lostNote = reason
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Dropped returns how many published frames were overwritten unread.
func (s *RemoteSource) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *RemoteSource) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil, fmt.Errorf("%w: remote source already in use", ErrDeviceUnavailable)
	}
	// frames published before acquisition belong to nobody
	s.frame = nil
	s.lostNote = ""
	s.stream = &remoteStream{src: s}
	return s.stream, nil
}

type remoteStream struct {
	src      *RemoteSource
	released bool
}

func (st *remoteStream) Next(ctx context.Context) (*types.Frame, error) {
	s := st.src
	for {
		s.mu.Lock()
		if st.released {
			s.mu.Unlock()
			return nil, ErrReleased
		}
		if s.lostNote != "" {
			note := s.lostNote
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSourceLost, note)
		}
		if f := s.frame; f != nil {
			s.frame = nil
			s.mu.Unlock()
			return f, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

func (st *remoteStream) Release() error {
	s := st.src
	s.mu.Lock()
	if st.released {
		s.mu.Unlock()
		return nil
	}
	st.released = true
	if s.stream == st {
		s.stream = nil
	}
	s.frame = nil
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}
