package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Cycle counters
	Cycles          atomic.Uint64
	FramesRead      atomic.Uint64
	StaleDiscarded  atomic.Uint64
	CyclesPaused    atomic.Uint64
	SessionsStarted atomic.Uint64
	SessionsEnded   atomic.Uint64

	// Detector counters
	DetectorErrors   atomic.Uint64
	DetectorTimeouts atomic.Uint64

	// Event counters
	EventsRaw        atomic.Uint64
	EventsEmitted    atomic.Uint64
	EventsSuppressed atomic.Uint64

	// Reporting counters
	Reports        atomic.Uint64
	ReportFailures atomic.Uint64

	// Error counters
	AcquireFailures atomic.Uint64
	SourceLost      atomic.Uint64

	// Latency tracking
	CycleLatencyMs  atomic.Uint64
	ReportLatencyMs atomic.Uint64

	// Latest integrity score, stored as score*100
	LastScoreCenti atomic.Uint64
	// 1 while a session is monitoring
	MonitoringActive atomic.Uint64

	// Feed viewers and ingest peers
	ActiveViewers atomic.Int64
	IngestPeers   atomic.Int64

	eventsByKind *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctor_events_emitted_by_kind_total",
				Help: "Violation events emitted after cooldown, by kind",
			},
			[]string{"kind"},
		),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.eventsByKind)

	// Cycle metrics
	m.gauge("proctor_cycles_total", "Total monitoring cycles completed", counter(&m.Cycles))
	m.gauge("proctor_frames_read_total", "Total frames pulled from the frame source", counter(&m.FramesRead))
	m.gauge("proctor_stale_results_discarded_total", "Cycle results discarded after the session changed", counter(&m.StaleDiscarded))
	m.gauge("proctor_cycles_paused_total", "Pacer waits that paused because the operator surface was hidden", counter(&m.CyclesPaused))
	m.gauge("proctor_sessions_started_total", "Sessions that reached monitoring", counter(&m.SessionsStarted))
	m.gauge("proctor_sessions_ended_total", "Sessions torn down", counter(&m.SessionsEnded))

	// Detector metrics
	m.gauge("proctor_detector_errors_total", "Detector calls that failed", counter(&m.DetectorErrors))
	m.gauge("proctor_detector_timeouts_total", "Detector calls that exceeded their deadline", counter(&m.DetectorTimeouts))

	// Event metrics
	m.gauge("proctor_events_raw_total", "Violations classified before cooldown", counter(&m.EventsRaw))
	m.gauge("proctor_events_emitted_total", "Violations emitted after cooldown", counter(&m.EventsEmitted))
	m.gauge("proctor_events_suppressed_total", "Violations suppressed by cooldown", counter(&m.EventsSuppressed))

	// Reporting metrics
	m.gauge("proctor_reports_total", "Event sink calls made", counter(&m.Reports))
	m.gauge("proctor_report_failures_total", "Event sink calls that failed", counter(&m.ReportFailures))

	// Error metrics
	m.gauge("proctor_acquire_failures_total", "Frame source acquisition failures", counter(&m.AcquireFailures))
	m.gauge("proctor_source_lost_total", "Frame source losses during monitoring", counter(&m.SourceLost))

	// Latency metrics
	m.gauge("proctor_cycle_latency_ms", "Last cycle duration in milliseconds", counter(&m.CycleLatencyMs))
	m.gauge("proctor_report_latency_ms", "Last event sink round trip in milliseconds", counter(&m.ReportLatencyMs))

	// State metrics
	m.gauge("proctor_integrity_score", "Latest integrity score returned by the event sink",
		func() float64 { return float64(m.LastScoreCenti.Load()) / 100 })
	m.gauge("proctor_monitoring_active", "Monitoring active (0=idle, 1=monitoring)", counter(&m.MonitoringActive))
	m.gauge("proctor_active_viewers", "Connected operator feed viewers",
		func() float64 { return float64(m.ActiveViewers.Load()) })
	m.gauge("proctor_ingest_peers", "Connected detection ingest peers",
		func() float64 { return float64(m.IngestPeers.Load()) })
}

// ObserveEmitted counts emitted kinds by name
func (m *Metrics) ObserveEmitted(kinds []string) {
	m.EventsEmitted.Add(uint64(len(kinds)))
	for _, k := range kinds {
		m.eventsByKind.WithLabelValues(k).Inc()
	}
}

// SetScore records the latest integrity score
func (m *Metrics) SetScore(score float64) {
	if score < 0 {
		score = 0
	}
	m.LastScoreCenti.Store(uint64(score*100 + 0.5))
}

// Score returns the latest integrity score
func (m *Metrics) Score() float64 {
	return float64(m.LastScoreCenti.Load()) / 100
}

// UpdateCycleLatency records the duration of the last cycle
func (m *Metrics) UpdateCycleLatency(duration time.Duration) {
	m.CycleLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateReportLatency records the duration of the last sink call
func (m *Metrics) UpdateReportLatency(duration time.Duration) {
	m.ReportLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Snapshot is a JSON view of the counters for the status endpoint
type Snapshot struct {
	Cycles           uint64  `json:"cycles"`
	FramesRead       uint64  `json:"frames_read"`
	DetectorErrors   uint64  `json:"detector_errors"`
	DetectorTimeouts uint64  `json:"detector_timeouts"`
	EventsEmitted    uint64  `json:"events_emitted"`
	EventsSuppressed uint64  `json:"events_suppressed"`
	Reports          uint64  `json:"reports"`
	ReportFailures   uint64  `json:"report_failures"`
	StaleDiscarded   uint64  `json:"stale_discarded"`
	CycleLatencyMs   uint64  `json:"cycle_latency_ms"`
	Score            float64 `json:"score"`
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Cycles:           m.Cycles.Load(),
		FramesRead:       m.FramesRead.Load(),
		DetectorErrors:   m.DetectorErrors.Load(),
		DetectorTimeouts: m.DetectorTimeouts.Load(),
		EventsEmitted:    m.EventsEmitted.Load(),
		EventsSuppressed: m.EventsSuppressed.Load(),
		Reports:          m.Reports.Load(),
		ReportFailures:   m.ReportFailures.Load(),
		StaleDiscarded:   m.StaleDiscarded.Load(),
		CycleLatencyMs:   m.CycleLatencyMs.Load(),
		Score:            m.Score(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
