package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/metrics"
)

func TestRefreshPacerCadence(t *testing.T) {
	p := NewRefreshPacer(100, nil, nil)
	if p.Interval() != 10*time.Millisecond {
		t.Fatalf("Interval = %v", p.Interval())
	}

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 6; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	// first wait is immediate, the next five are paced
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Fatalf("6 waits took %v, expected at least ~50ms", elapsed)
	}
}

func TestRefreshPacerPausesWhileHidden(t *testing.T) {
	var visible atomic.Bool
	m := metrics.New()
	p := NewRefreshPacer(1000, visible.Load, m)

	done := make(chan error, 1)
	go func() { done <- p.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("pacer released a cycle while hidden")
	case <-time.After(50 * time.Millisecond):
	}

	visible.Store(true)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("pacer did not resume after becoming visible")
	}
	if m.CyclesPaused.Load() != 1 {
		t.Fatalf("CyclesPaused = %d", m.CyclesPaused.Load())
	}
}

func TestRefreshPacerCancel(t *testing.T) {
	p := NewRefreshPacer(1, func() bool { return false }, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}
