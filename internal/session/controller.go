// Package session runs the monitoring loop for the selected candidate: it
// pulls frames, runs detectors, classifies, reduces through the cooldown
// registry and reports, one cycle at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/capture"
	"github.com/dj-oyu/proctor-monitor/internal/cooldown"
	"github.com/dj-oyu/proctor-monitor/internal/detector"
	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/metrics"
	"github.com/dj-oyu/proctor-monitor/internal/reducer"
	"github.com/dj-oyu/proctor-monitor/internal/violation"
	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// ErrAcquire wraps every failure that keeps a session from reaching Monitoring.
var ErrAcquire = errors.New("session start failed")

// Health component names.
const (
	ComponentSource   = "frame_source"
	ComponentObjects  = "object_detector"
	ComponentFaces    = "face_detector"
	ComponentRegistry = "candidate_registry"
)

// Classifier maps one frame's detections to raw violations.
type Classifier interface {
	Classify(detections []types.Detection, frameWidth, frameHeight int) violation.Set
}

// Reporter delivers emitted kinds and returns the updated score.
type Reporter interface {
	Report(ctx context.Context, sessionID string, kinds []violation.Kind) (float64, bool)
}

// Registry is the backend's candidate registry. Calls are best effort.
type Registry interface {
	Score(ctx context.Context, candidateID string) (float64, error)
	EndSession(ctx context.Context, candidateID string) error
}

// Observer receives per-component call outcomes.
type Observer interface {
	Observe(component string, err error)
}

type Config struct {
	Source     capture.Source
	Objects    detector.ObjectDetector
	Faces      detector.FaceDetector
	Classifier Classifier
	Reporter   Reporter
	Registry   Registry // optional
	Pacer      Pacer

	Cooldown        time.Duration
	DetectTimeout   time.Duration
	AcquireTimeout  time.Duration
	RegistryTimeout time.Duration
	PruneOnEnd      bool

	Metrics  *metrics.Metrics
	Health   Observer
	Notifier Notifier
	Clock    func() time.Time
}

// run is one Monitoring period. done closes after teardown completes.
type run struct {
	token  Token
	ctx    context.Context
	cancel context.CancelFunc
	stream capture.Stream
	done   chan struct{}
}

// Controller owns the cooldown registry and at most one active run.
type Controller struct {
	cfg      Config
	registry *cooldown.Registry
	reducer  *reducer.Reducer

	// opMu serializes Select and End so teardown always precedes the next
	// acquisition of the exclusive frame source.
	opMu sync.Mutex

	mu            sync.RWMutex
	state         State
	sessionID     string
	gen           uint64
	current       *run
	startCancel   context.CancelFunc
	scores        map[string]float64
	lastEmitted   []violation.Kind
	lastEmittedAt time.Time
	lastErr       error
}

func NewController(cfg Config) (*Controller, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("session: frame source is required")
	case cfg.Objects == nil || cfg.Faces == nil:
		return nil, errors.New("session: object and face detectors are required")
	case cfg.Classifier == nil:
		return nil, errors.New("session: classifier is required")
	case cfg.Reporter == nil:
		return nil, errors.New("session: reporter is required")
	}
	if cfg.Pacer == nil {
		cfg.Pacer = NewRefreshPacer(60, nil, cfg.Metrics)
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 500 * time.Millisecond
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	if cfg.RegistryTimeout <= 0 {
		cfg.RegistryTimeout = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	registry := cooldown.NewRegistry(cfg.Cooldown)
	return &Controller{
		cfg:      cfg,
		registry: registry,
		reducer:  reducer.New(registry),
		scores:   make(map[string]float64),
	}, nil
}

// Registry exposes the cooldown registry for diagnostics.
func (c *Controller) Registry() *cooldown.Registry {
	return c.registry
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Score returns the latest score the backend reported for sessionID.
func (c *Controller) Score(sessionID string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scores[sessionID]
	return s, ok
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		State:      c.state,
		SessionID:  c.sessionID,
		Generation: c.gen,
	}
	if s, ok := c.scores[c.sessionID]; ok && c.sessionID != "" {
		st.Score = &s
	}
	if len(c.lastEmitted) > 0 {
		st.LastEmitted = append([]violation.Kind(nil), c.lastEmitted...)
		at := c.lastEmittedAt
		st.LastEmittedAt = &at
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Select makes candidateID the active session. An empty id ends monitoring.
// Selecting the session that is already monitoring is a no-op.
func (c *Controller) Select(ctx context.Context, candidateID string) error {
	if candidateID == "" {
		return c.End()
	}

	// a newer selection supersedes a start that is still acquiring
	c.cancelPendingStart()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	same := c.current != nil && c.sessionID == candidateID && c.state == Monitoring
	c.mu.RUnlock()
	if same {
		return nil
	}

	c.stopLocked()
	return c.startLocked(ctx, candidateID)
}

// End stops the active session, if any, waits for teardown and closes the
// candidate's session in the registry.
func (c *Controller) End() error {
	if ended := c.stop(); ended != "" {
		c.endInRegistry(ended)
	}
	return nil
}

// Shutdown stops monitoring but leaves the candidate's registry session open.
func (c *Controller) Shutdown() {
	c.stop()
}

func (c *Controller) stop() string {
	c.cancelPendingStart()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked()
}

func (c *Controller) cancelPendingStart() {
	c.mu.Lock()
	if c.startCancel != nil {
		c.startCancel()
	}
	c.mu.Unlock()
}

func (c *Controller) startLocked(ctx context.Context, sessionID string) error {
	acqCtx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	defer cancel()

	c.mu.Lock()
	c.gen++
	token := Token{SessionID: sessionID, Generation: c.gen}
	c.state = Starting
	c.sessionID = sessionID
	c.startCancel = cancel
	c.lastErr = nil
	c.mu.Unlock()
	c.notify(Event{Type: EventState, SessionID: sessionID, State: Starting})
	logger.Info("Session", "Starting session %s (gen %d) on %s", sessionID, token.Generation, c.cfg.Source.Name())

	stream, err := c.cfg.Source.Acquire(acqCtx)
	c.observe(ComponentSource, err)
	if err == nil {
		if err = c.loadDetectors(acqCtx); err != nil {
			_ = stream.Release()
		}
	}

	c.mu.Lock()
	c.startCancel = nil
	c.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAcquire, err)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.AcquireFailures.Add(1)
		}
		c.mu.Lock()
		c.state = Idle
		c.sessionID = ""
		c.lastErr = err
		c.mu.Unlock()
		logger.Error("Session", "Session %s failed to start: %v", sessionID, err)
		c.notify(Event{Type: EventError, SessionID: sessionID, State: Idle, Error: err.Error()})
		c.notify(Event{Type: EventState, State: Idle})
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	r := &run{
		token:  token,
		ctx:    runCtx,
		cancel: runCancel,
		stream: stream,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.current = r
	c.state = Monitoring
	c.mu.Unlock()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SessionsStarted.Add(1)
		c.cfg.Metrics.MonitoringActive.Store(1)
	}
	c.notify(Event{Type: EventState, SessionID: sessionID, State: Monitoring})
	logger.Info("Session", "Monitoring session %s", sessionID)

	c.seedScore(sessionID)
	go c.loop(r)
	return nil
}

func (c *Controller) loadDetectors(ctx context.Context) error {
	if l, ok := c.cfg.Objects.(detector.Loader); ok {
		err := l.Load(ctx)
		c.observe(ComponentObjects, err)
		if err != nil {
			return fmt.Errorf("load object detector: %w", err)
		}
	}
	if l, ok := c.cfg.Faces.(detector.Loader); ok {
		err := l.Load(ctx)
		c.observe(ComponentFaces, err)
		if err != nil {
			return fmt.Errorf("load face detector: %w", err)
		}
	}
	return nil
}

// seedScore loads the candidate's current score so status shows it before
// the first report. It runs before the loop starts, so a reported score
// always wins.
func (c *Controller) seedScore(sessionID string) {
	if c.cfg.Registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RegistryTimeout)
	defer cancel()

	score, err := c.cfg.Registry.Score(ctx, sessionID)
	c.observe(ComponentRegistry, err)
	if err != nil {
		logger.Warn("Session", "Load score for %s: %v", sessionID, err)
		return
	}
	c.applyScore(sessionID, score)
}

func (c *Controller) endInRegistry(sessionID string) {
	if c.cfg.Registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RegistryTimeout)
	defer cancel()

	err := c.cfg.Registry.EndSession(ctx, sessionID)
	c.observe(ComponentRegistry, err)
	if err != nil {
		logger.Warn("Session", "End session %s in registry: %v", sessionID, err)
		return
	}
	logger.Info("Session", "Session %s closed in registry", sessionID)
}

// stopLocked moves the active run to Stopping and waits until its loop has
// released the stream and returned to Idle. It returns the ended session id,
// or "" when nothing was running.
func (c *Controller) stopLocked() string {
	c.mu.Lock()
	r := c.current
	if r == nil {
		c.mu.Unlock()
		return ""
	}
	c.state = Stopping
	c.mu.Unlock()

	c.notify(Event{Type: EventState, SessionID: r.token.SessionID, State: Stopping})
	r.cancel()
	<-r.done
	return r.token.SessionID
}

func (c *Controller) isCurrent(r *run) bool {
	if r.ctx.Err() != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current == r
}

func (c *Controller) loop(r *run) {
	defer c.teardown(r)

	for {
		if err := c.cfg.Pacer.Wait(r.ctx); err != nil {
			return
		}
		if err := c.cycle(r); err != nil {
			c.sourceLost(r, err)
			return
		}
	}
}

// cycle runs one frame through the pipeline. It returns an error only when
// the frame source is gone.
func (c *Controller) cycle(r *run) error {
	if r.stream == nil {
		return nil
	}
	start := time.Now()
	m := c.cfg.Metrics

	frame, err := r.stream.Next(r.ctx)
	if err != nil {
		if r.ctx.Err() != nil {
			return nil
		}
		if capture.IsFatal(err) {
			return err
		}
		c.observe(ComponentSource, err)
		logger.Warn("Session", "Frame read failed: %v", err)
		return nil
	}
	if m != nil {
		m.FramesRead.Add(1)
	}

	detections, facesOK := c.detect(r.ctx, frame)
	if !c.isCurrent(r) {
		c.discardStale(r, "detections")
		return nil
	}

	raw := c.cfg.Classifier.Classify(detections, frame.Width, frame.Height)
	if !facesOK {
		// no face answer this cycle: face rules would only report the outage
		raw = objectKinds(raw)
	}
	now := c.cfg.Clock()
	emitted := c.reducer.Reduce(r.token.SessionID, raw, now)

	if m != nil {
		m.EventsRaw.Add(uint64(raw.Len()))
		m.EventsSuppressed.Add(uint64(raw.Len() - len(emitted)))
		m.ObserveEmitted(violation.Names(emitted))
	}

	if len(emitted) > 0 {
		c.mu.Lock()
		c.lastEmitted = emitted
		c.lastEmittedAt = now
		c.mu.Unlock()
		c.notify(Event{
			Type:      EventViolations,
			SessionID: r.token.SessionID,
			State:     Monitoring,
			Raw:       raw.Kinds(),
			Emitted:   emitted,
			Timestamp: now,
		})

		score, ok := c.cfg.Reporter.Report(r.ctx, r.token.SessionID, emitted)
		if ok {
			if !c.isCurrent(r) {
				c.discardStale(r, "score")
				return nil
			}
			c.applyScore(r.token.SessionID, score)
		}
	}

	if m != nil {
		m.Cycles.Add(1)
		m.UpdateCycleLatency(time.Since(start))
	}
	return nil
}

func (c *Controller) discardStale(r *run, what string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.StaleDiscarded.Add(1)
	}
	logger.Debug("Session", "Discarded stale %s for %s (gen %d)", what, r.token.SessionID, r.token.Generation)
}

func (c *Controller) applyScore(sessionID string, score float64) {
	c.mu.Lock()
	c.scores[sessionID] = score
	c.mu.Unlock()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SetScore(score)
	}
	c.notify(Event{Type: EventScore, SessionID: sessionID, State: Monitoring, Score: &score})
}

type detectResult struct {
	dets []types.Detection
	err  error
}

// detect runs both detectors concurrently. A failed or timed-out detector
// contributes zero detections; facesOK is false when the face detector gave
// no answer.
func (c *Controller) detect(ctx context.Context, frame *types.Frame) (dets []types.Detection, facesOK bool) {
	var objects, faces []types.Detection
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		objects, _ = c.runDetector(ctx, ComponentObjects, func(ctx context.Context) ([]types.Detection, error) {
			return c.cfg.Objects.DetectObjects(ctx, frame)
		})
	}()
	go func() {
		defer wg.Done()
		faces, facesOK = c.runDetector(ctx, ComponentFaces, func(ctx context.Context) ([]types.Detection, error) {
			return c.cfg.Faces.DetectFaces(ctx, frame)
		})
	}()
	wg.Wait()

	out := make([]types.Detection, 0, len(objects)+len(faces))
	out = append(out, objects...)
	return append(out, faces...), facesOK
}

func objectKinds(s violation.Set) violation.Set {
	var out violation.Set
	for _, k := range s.Kinds() {
		if k.IsObject() {
			out = out.Add(k)
		}
	}
	return out
}

func (c *Controller) runDetector(ctx context.Context, component string, fn func(context.Context) ([]types.Detection, error)) ([]types.Detection, bool) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DetectTimeout)
	defer cancel()

	// buffered so a detector that ignores its context cannot leak the sender
	ch := make(chan detectResult, 1)
	go func() {
		dets, err := fn(dctx)
		ch <- detectResult{dets: dets, err: err}
	}()

	var res detectResult
	select {
	case res = <-ch:
	case <-dctx.Done():
		res = detectResult{err: dctx.Err()}
	}

	if res.err == nil {
		c.observe(component, nil)
		return res.dets, true
	}
	if ctx.Err() != nil {
		return nil, false
	}

	m := c.cfg.Metrics
	if errors.Is(res.err, context.DeadlineExceeded) {
		if m != nil {
			m.DetectorTimeouts.Add(1)
		}
		logger.Debug("Session", "%s timed out after %v", component, c.cfg.DetectTimeout)
	} else {
		if m != nil {
			m.DetectorErrors.Add(1)
		}
		logger.Warn("Session", "%s failed: %v", component, res.err)
	}
	c.observe(component, res.err)
	return nil, false
}

func (c *Controller) sourceLost(r *run, err error) {
	c.observe(ComponentSource, err)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SourceLost.Add(1)
	}

	c.mu.Lock()
	if c.current == r {
		c.state = Stopping
		c.lastErr = err
	}
	c.mu.Unlock()

	logger.Error("Session", "Frame source lost for %s: %v", r.token.SessionID, err)
	c.notify(Event{Type: EventError, SessionID: r.token.SessionID, State: Stopping, Error: err.Error()})
}

// teardown runs on the loop goroutine exactly once per run.
func (c *Controller) teardown(r *run) {
	defer close(r.done)
	r.cancel()

	if err := r.stream.Release(); err != nil {
		logger.Warn("Session", "Release frame source: %v", err)
	}
	if c.cfg.PruneOnEnd {
		n := c.registry.Prune(r.token.SessionID)
		logger.Debug("Session", "Pruned %d cooldown entries for %s", n, r.token.SessionID)
	}

	c.mu.Lock()
	if c.current == r {
		c.current = nil
		c.state = Idle
		c.sessionID = ""
	}
	c.mu.Unlock()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SessionsEnded.Add(1)
		c.cfg.Metrics.MonitoringActive.Store(0)
	}
	logger.Info("Session", "Session %s ended", r.token.SessionID)
	c.notify(Event{Type: EventState, SessionID: r.token.SessionID, State: Idle})
}

func (c *Controller) observe(component string, err error) {
	if c.cfg.Health != nil {
		c.cfg.Health.Observe(component, err)
	}
}

func (c *Controller) notify(ev Event) {
	if c.cfg.Notifier == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.cfg.Clock()
	}
	c.cfg.Notifier.Notify(ev)
}
