package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/recorder"
	"github.com/dj-oyu/proctor-monitor/internal/sink"
)

// Server exposes the store over HTTP.
type Server struct {
	store    *Store
	recorder *recorder.Recorder
}

// NewServer wires a store. rec may be nil when archiving is disabled.
func NewServer(store *Store, rec *recorder.Recorder) *Server {
	return &Server{store: store, recorder: rec}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/candidates", s.handleCandidates)
	mux.HandleFunc("/add-candidate", s.handleAddCandidate)
	mux.HandleFunc("/log-events", s.handleLogEvents)
	mux.HandleFunc("/end-session", s.handleEndSession)
	mux.HandleFunc("/generate-report", s.handleReport)
	mux.HandleFunc("/archive/status", s.handleArchiveStatus)
	mux.HandleFunc("/healthcheck", s.handleHealthcheck)

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Batch-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.store.Candidates())
}

func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.FormValue("name")
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("name is required"))
		return
	}
	writeJSON(w, s.store.AddCandidate(name))
}

// logEventsResponse keeps the legacy status/events shape and adds the score.
type logEventsResponse struct {
	Status  string   `json:"status"`
	Events  []string `json:"events"`
	Score   float64  `json:"score"`
	BatchID string   `json:"batch_id,omitempty"`
}

func (s *Server) handleLogEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	batch, err := sink.DecodeRequest(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sink.ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, status, err)
		return
	}
	if batch.BatchID == "" {
		batch.BatchID = r.Header.Get("X-Batch-ID")
	}

	id, err := ParseID(batch.SessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", err, batch.SessionID))
		return
	}

	score, err := s.store.LogEvents(id, batch.BatchID, batch.Events)
	switch {
	case errors.Is(err, ErrCandidateNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, ErrSessionEnded):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	events := batch.Events
	if events == nil {
		events = []string{}
	}
	writeJSON(w, logEventsResponse{
		Status:  "success",
		Events:  events,
		Score:   score,
		BatchID: batch.BatchID,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := ParseID(r.FormValue("candidate_id"))
	if err == nil {
		_, err = s.store.EndSession(id)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, map[string]any{"status": "success", "candidate_id": id})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := ParseID(r.URL.Query().Get("candidate_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	rep, err := s.store.Report(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.recorder.GetStatus())
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"candidates": len(s.store.Candidates()),
		"timestamp":  float64(time.Now().Unix()),
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger.Warn("Scoring", "%s", err)
	writeJSONWithStatus(w, map[string]string{"status": "error", "message": err.Error()}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
