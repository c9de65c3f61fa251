package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/metrics"
	"github.com/dj-oyu/proctor-monitor/internal/sink"
	"github.com/dj-oyu/proctor-monitor/internal/violation"
)

type fakeSink struct {
	mu      sync.Mutex
	calls   int
	batches []sink.Batch
	score   float64
	err     error
	delay   time.Duration
}

func (f *fakeSink) Send(ctx context.Context, b sink.Batch) (float64, error) {
	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, b)
	score, err, delay := f.score, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return score, err
}

func (f *fakeSink) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeObserver struct {
	errs []error
}

func (o *fakeObserver) Observe(component string, err error) {
	o.errs = append(o.errs, err)
}

func TestReportEmptyMakesNoCall(t *testing.T) {
	s := &fakeSink{score: 90}
	g := New(s, Options{})

	score, ok := g.Report(context.Background(), "c1", nil)
	if ok || score != 0 {
		t.Fatalf("Report(empty) = %v, %v", score, ok)
	}
	if s.Calls() != 0 {
		t.Fatalf("sink called %d times, want 0", s.Calls())
	}
}

func TestReportSuccess(t *testing.T) {
	s := &fakeSink{score: 75}
	m := metrics.New()
	obs := &fakeObserver{}
	g := New(s, Options{Metrics: m, Observer: obs})

	score, ok := g.Report(context.Background(), "c1", []violation.Kind{violation.CellPhone, violation.NoFace})
	if !ok || score != 75 {
		t.Fatalf("Report = %v, %v", score, ok)
	}
	b := s.batches[0]
	if b.SessionID != "c1" || len(b.Events) != 2 || b.Events[0] != "cell phone" || b.BatchID == "" {
		t.Fatalf("unexpected batch %+v", b)
	}
	if m.Reports.Load() != 1 || m.ReportFailures.Load() != 0 {
		t.Fatalf("metrics reports=%d failures=%d", m.Reports.Load(), m.ReportFailures.Load())
	}
	if len(obs.errs) != 1 || obs.errs[0] != nil {
		t.Fatalf("observer saw %v", obs.errs)
	}
}

func TestReportFailureIsSwallowed(t *testing.T) {
	s := &fakeSink{err: errors.New("connection refused")}
	m := metrics.New()
	g := New(s, Options{Metrics: m})

	score, ok := g.Report(context.Background(), "c1", []violation.Kind{violation.Book})
	if ok || score != 0 {
		t.Fatalf("Report = %v, %v, want failure", score, ok)
	}
	if s.Calls() != 1 {
		t.Fatalf("sink called %d times, want exactly 1 (no retry)", s.Calls())
	}
	if m.ReportFailures.Load() != 1 {
		t.Fatalf("ReportFailures = %d", m.ReportFailures.Load())
	}
}

func TestReportTimeout(t *testing.T) {
	s := &fakeSink{score: 50, delay: time.Second}
	g := New(s, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, ok := g.Report(context.Background(), "c1", []violation.Kind{violation.Laptop})
	if ok {
		t.Fatal("expected timed out report to fail")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("report did not honour timeout: %v", time.Since(start))
	}
}
