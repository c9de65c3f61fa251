package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/proctor-monitor/internal/health"
	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/metrics"
	"github.com/dj-oyu/proctor-monitor/internal/session"
)

// Controller is the slice of the session controller the surface drives.
type Controller interface {
	Select(ctx context.Context, candidateID string) error
	End() error
	Status() session.Status
}

// Config wires the server's collaborators. Metrics, Health and Ingest are
// optional.
type Config struct {
	Controller  Controller
	Broadcaster *EventBroadcaster
	Metrics     *metrics.Metrics
	Health      *health.Monitor
	Ingest      http.Handler
}

// Server serves the operator endpoints.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil || cfg.Broadcaster == nil {
		return nil, errors.New("operator: controller and broadcaster are required")
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/session/select", s.handleSelect)
	mux.HandleFunc("/api/session/end", s.handleEnd)
	mux.HandleFunc("/api/events/stream", s.handleEventsStream)
	mux.HandleFunc("/api/events/ws", s.handleEventsWS)
	if s.cfg.Ingest != nil {
		mux.Handle("/api/ingest/offer", s.cfg.Ingest)
	}
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics.Handler())
	}
	if s.cfg.Health != nil {
		mux.Handle("/health", s.cfg.Health.Handler())
	}

	return mux
}

// StatusPayload is the /api/status response body.
type StatusPayload struct {
	Session   session.Status    `json:"session"`
	Latest    *session.Event    `json:"latest_event"`
	History   []session.Event   `json:"violation_history"`
	Viewers   int               `json:"viewers"`
	Metrics   *metrics.Snapshot `json:"metrics,omitempty"`
	Timestamp float64           `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	latest, history := s.cfg.Broadcaster.Snapshot()
	payload := StatusPayload{
		Session:   s.cfg.Controller.Status(),
		Latest:    latest,
		History:   history,
		Viewers:   s.cfg.Broadcaster.Viewers(),
		Timestamp: float64(time.Now().Unix()),
	}
	if s.cfg.Metrics != nil {
		snap := s.cfg.Metrics.Snapshot()
		payload.Metrics = &snap
	}
	writeJSON(w, payload)
}

type selectRequest struct {
	CandidateID string `json:"candidate_id"`
}

// candidateFromRequest accepts a JSON body or a form field.
func candidateFromRequest(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", fmt.Errorf("invalid request body: %w", err)
		}
		return strings.TrimSpace(req.CandidateID), nil
	}
	return strings.TrimSpace(r.FormValue("candidate_id")), nil
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := candidateFromRequest(r)
	if err != nil {
		writeJSONWithStatus(w, map[string]string{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	logger.Info("Operator", "Select candidate %q", id)
	if err := s.cfg.Controller.Select(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrAcquire) {
			status = http.StatusServiceUnavailable
		}
		writeJSONWithStatus(w, map[string]any{
			"error":   err.Error(),
			"session": s.cfg.Controller.Status(),
		}, status)
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "session": s.cfg.Controller.Status()})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.cfg.Controller.End(); err != nil {
		writeJSONWithStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "session": s.cfg.Controller.Status()})
}

// wantsProtobuf negotiates the SSE payload encoding.
func wantsProtobuf(r *http.Request) bool {
	if r.URL.Query().Get("format") == "protobuf" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") || strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.cfg.Broadcaster.Subscribe()
	defer s.cfg.Broadcaster.Unsubscribe(id)
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r))
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	// subscribe before the handshake completes so no event falls in between
	id, eventCh := s.cfg.Broadcaster.Subscribe()
	defer s.cfg.Broadcaster.Unsubscribe(id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket", "Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logger.Debug("WebSocket", "Client connected: %s", r.RemoteAddr)
	pumpWebSocket(conn, eventCh)
	logger.Debug("WebSocket", "Client disconnected: %s", r.RemoteAddr)
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
