package scoring

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/recorder"
)

var (
	// ErrCandidateNotFound is returned for unknown or malformed candidate ids.
	ErrCandidateNotFound = errors.New("candidate not found")
	// ErrSessionEnded is returned when logging against a finished session.
	ErrSessionEnded = errors.New("candidate session has ended")
)

// Candidate is one exam session.
type Candidate struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	IntegrityScore float64    `json:"integrity_score"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
}

// Archiver receives every applied event.
type Archiver interface {
	Send(rows ...recorder.EventRow) bool
}

// Store is the in-memory candidate registry.
type Store struct {
	mu         sync.RWMutex
	policy     Policy
	archive    Archiver
	nextID     int64
	candidates map[int64]*Candidate
	events     map[int64][]recorder.EventRow
	now        func() time.Time
}

func NewStore(policy Policy, archive Archiver) *Store {
	return &Store{
		policy:     policy,
		archive:    archive,
		nextID:     1,
		candidates: make(map[int64]*Candidate),
		events:     make(map[int64][]recorder.EventRow),
		now:        time.Now,
	}
}

// ParseID converts a session id string into a candidate id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrCandidateNotFound
	}
	return id, nil
}

func (s *Store) AddCandidate(name string) Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Candidate{
		ID:             s.nextID,
		Name:           name,
		IntegrityScore: s.policy.MaxScore,
		StartTime:      s.now(),
	}
	s.candidates[c.ID] = c
	s.nextID++

	logger.Info("Scoring", "Added candidate %q with id %d", name, c.ID)
	return *c
}

// Candidates returns all candidates ordered by id.
func (s *Store) Candidates() []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Candidate(id int64) (Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok {
		return Candidate{}, ErrCandidateNotFound
	}
	return *c, nil
}

// LogEvents applies each event's deduction in order and returns the new
// score. The score never drops below zero.
func (s *Store) LogEvents(id int64, batchID string, events []string) (float64, error) {
	s.mu.Lock()
	c, ok := s.candidates[id]
	if !ok {
		s.mu.Unlock()
		return 0, ErrCandidateNotFound
	}
	if c.EndTime != nil {
		s.mu.Unlock()
		return c.IntegrityScore, ErrSessionEnded
	}

	at := s.now()
	rows := make([]recorder.EventRow, 0, len(events))
	for _, ev := range events {
		d, known := s.policy.Deduction(ev)
		if !known {
			logger.Warn("Scoring", "Unknown event %q for candidate %d, no deduction", ev, id)
		}
		c.IntegrityScore = math.Max(0, c.IntegrityScore-d)
		rows = append(rows, recorder.EventRow{
			CandidateID: id,
			BatchID:     batchID,
			Event:       ev,
			ScoreChange: d,
			ScoreAfter:  c.IntegrityScore,
			TimestampMs: at.UnixMilli(),
		})
	}
	s.events[id] = append(s.events[id], rows...)
	score := c.IntegrityScore
	s.mu.Unlock()

	if s.archive != nil && len(rows) > 0 && !s.archive.Send(rows...) {
		logger.Warn("Scoring", "Archive dropped %d events for candidate %d", len(rows), id)
	}
	logger.Debug("Scoring", "Candidate %d logged %v, score=%.1f", id, events, score)
	return score, nil
}

// EndSession stamps the end time. Ending twice keeps the first end time.
func (s *Store) EndSession(id int64) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return Candidate{}, ErrCandidateNotFound
	}
	if c.EndTime == nil {
		end := s.now()
		c.EndTime = &end
		logger.Info("Scoring", "Ended session for candidate %d with score %.1f", id, c.IntegrityScore)
	}
	return *c, nil
}

// Report summarizes a candidate's session.
type Report struct {
	Candidate  Candidate           `json:"candidate"`
	Events     []recorder.EventRow `json:"events"`
	Counts     map[string]int      `json:"counts"`
	TotalLost  float64             `json:"total_deducted"`
	DurationMs int64               `json:"duration_ms"`
}

func (s *Store) Report(id int64) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidates[id]
	if !ok {
		return Report{}, ErrCandidateNotFound
	}

	rep := Report{
		Candidate: *c,
		Events:    append(make([]recorder.EventRow, 0, len(s.events[id])), s.events[id]...),
		Counts:    make(map[string]int),
	}
	for _, ev := range rep.Events {
		rep.Counts[ev.Event]++
		rep.TotalLost += ev.ScoreChange
	}
	end := s.now()
	if c.EndTime != nil {
		end = *c.EndTime
	}
	rep.DurationMs = end.Sub(c.StartTime).Milliseconds()
	return rep, nil
}
