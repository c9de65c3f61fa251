package session

import (
	"context"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/metrics"
)

// Pacer gates the start of each cycle.
type Pacer interface {
	Wait(ctx context.Context) error
}

// PacerFunc adapts a function to Pacer.
type PacerFunc func(ctx context.Context) error

func (f PacerFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// hiddenPoll is how often a paused pacer rechecks visibility.
const hiddenPoll = 100 * time.Millisecond

// RefreshPacer releases at most one cycle per display refresh interval.
// With a visibility gate it holds cycles while the operator surface is hidden.
type RefreshPacer struct {
	interval time.Duration
	visible  func() bool
	metrics  *metrics.Metrics
	next     time.Time
}

// NewRefreshPacer builds a pacer for hz refreshes per second. visible may be nil.
func NewRefreshPacer(hz float64, visible func() bool, m *metrics.Metrics) *RefreshPacer {
	if hz <= 0 {
		hz = 60
	}
	return &RefreshPacer{
		interval: time.Duration(float64(time.Second) / hz),
		visible:  visible,
		metrics:  m,
	}
}

func (p *RefreshPacer) Interval() time.Duration {
	return p.interval
}

// Wait is called from a single loop goroutine.
func (p *RefreshPacer) Wait(ctx context.Context) error {
	now := time.Now()
	if p.next.Before(now) {
		// fell behind, skip missed refreshes instead of bursting
		p.next = now
	}
	if err := sleepUntil(ctx, p.next); err != nil {
		return err
	}

	if p.visible != nil && !p.visible() {
		if p.metrics != nil {
			p.metrics.CyclesPaused.Add(1)
		}
		for !p.visible() {
			if err := sleepUntil(ctx, time.Now().Add(hiddenPoll)); err != nil {
				return err
			}
		}
	}

	p.next = time.Now().Add(p.interval)
	return nil
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
