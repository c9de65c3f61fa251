// Package gateway delivers emitted violation events to the event sink with
// at-most-once, best-effort semantics.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/metrics"
	"github.com/dj-oyu/proctor-monitor/internal/sink"
	"github.com/dj-oyu/proctor-monitor/internal/violation"
)

// Component is the health component name the gateway reports under.
const Component = "event_sink"

// Sink transmits a batch and returns the session's updated score.
type Sink interface {
	Send(ctx context.Context, b sink.Batch) (float64, error)
}

// Observer receives the outcome of every sink call.
type Observer interface {
	Observe(component string, err error)
}

type Options struct {
	Timeout  time.Duration
	Metrics  *metrics.Metrics
	Observer Observer
}

type Gateway struct {
	sink    Sink
	timeout time.Duration
	metrics *metrics.Metrics
	obs     Observer
	now     func() time.Time
}

func New(s Sink, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Gateway{
		sink:    s,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		obs:     opts.Observer,
		now:     time.Now,
	}
}

// Report sends kinds for sessionID. An empty kinds slice makes no call.
// Failures are logged and dropped; ok is false whenever no score came back.
func (g *Gateway) Report(ctx context.Context, sessionID string, kinds []violation.Kind) (score float64, ok bool) {
	if len(kinds) == 0 {
		return 0, false
	}

	batch := sink.Batch{
		BatchID:   uuid.NewString(),
		SessionID: sessionID,
		Events:    violation.Names(kinds),
		SentAt:    g.now(),
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	score, err := g.sink.Send(ctx, batch)
	elapsed := time.Since(start)

	if g.metrics != nil {
		g.metrics.Reports.Add(1)
		g.metrics.UpdateReportLatency(elapsed)
	}
	if g.obs != nil {
		g.obs.Observe(Component, err)
	}

	if err != nil {
		if g.metrics != nil {
			g.metrics.ReportFailures.Add(1)
		}
		logger.With("Gateway",
			"session", sessionID,
			"batch", batch.BatchID,
			"events", batch.Events,
			"elapsed", elapsed,
		).Warnw("event batch dropped", "error", err)
		return 0, false
	}

	logger.Debug("Gateway", "Reported %v for %s, score=%.1f", batch.Events, sessionID, score)
	return score, true
}
