// Package ingest accepts browser peers over WebRTC and feeds the frames and
// detections they send on a DataChannel into a remote frame source.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/proctor-monitor/internal/capture"
	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/metrics"
)

// ErrTooManyPeers is returned when the peer limit is reached.
var ErrTooManyPeers = errors.New("maximum ingest peers reached")

// Peer is one connected publisher.
type Peer struct {
	id       string
	peerConn *webrtc.PeerConnection
	frames   uint64
	rejected uint64
}

// Server manages ingest peer connections.
type Server struct {
	peers    map[string]*Peer
	reserved int // offers past the limit check that are still gathering
	peersMu  sync.RWMutex
	config   webrtc.Configuration
	maxPeers int
	api      *webrtc.API
	source   *capture.RemoteSource
	metrics  *metrics.Metrics
}

// NewServer creates an ingest server publishing into source.
func NewServer(source *capture.RemoteSource, stunServers []string, maxPeers int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	if maxPeers <= 0 {
		maxPeers = 1
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	return &Server{
		peers:    make(map[string]*Peer),
		config:   webrtc.Configuration{ICEServers: iceServers},
		maxPeers: maxPeers,
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
		source:   source,
		metrics:  m,
	}
}

// HandleOffer answers a peer's offer. The peer is expected to open a
// DataChannel and send one FrameMessage per frame.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, errors.New("failed to parse offer: not an SDP offer")
	}

	if err := s.reserveSlot(); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			s.releaseSlot()
		}
	}()

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	peer := &Peer{id: "peer-" + uuid.NewString(), peerConn: peerConn}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Info("Ingest", "Peer %s opened channel %q", peer.id, dc.Label())
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			s.handleMessage(peer, msg.Data)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("Ingest", "Peer %s connection state: %s", peer.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("Ingest", "Peer %s connection lost (%s), removing...", peer.id, state.String())
			s.RemovePeer(peer.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	s.peersMu.Lock()
	s.reserved--
	committed = true
	s.peers[peer.id] = peer
	s.setPeersLocked()
	s.peersMu.Unlock()
	logger.Info("Ingest", "Peer %s connected", peer.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemovePeer(peer.id)
		return nil, errors.New("no local description available")
	}
	return json.Marshal(localDesc)
}

// reserveSlot claims a peer slot before the ICE gather so concurrent offers
// cannot overshoot maxPeers.
func (s *Server) reserveSlot() error {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	if len(s.peers)+s.reserved >= s.maxPeers {
		return fmt.Errorf("%w (%d)", ErrTooManyPeers, s.maxPeers)
	}
	s.reserved++
	return nil
}

func (s *Server) releaseSlot() {
	s.peersMu.Lock()
	s.reserved--
	s.peersMu.Unlock()
}

func (s *Server) handleMessage(peer *Peer, data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		s.peersMu.Lock()
		peer.rejected++
		s.peersMu.Unlock()
		logger.Warn("Ingest", "Peer %s sent bad frame: %v", peer.id, err)
		return
	}
	s.peersMu.Lock()
	peer.frames++
	s.peersMu.Unlock()
	s.source.Publish(frame)
}

// RemovePeer closes and forgets a peer. When the last peer leaves, the
// remote source is marked lost so an active session ends.
func (s *Server) RemovePeer(id string) {
	s.peersMu.Lock()
	peer, ok := s.peers[id]
	if !ok {
		s.peersMu.Unlock()
		return
	}
	delete(s.peers, id)
	remaining := len(s.peers)
	frames, rejected := peer.frames, peer.rejected
	s.setPeersLocked()
	s.peersMu.Unlock()

	_ = peer.peerConn.Close()
	logger.Info("Ingest", "Peer %s disconnected (frames: %d, rejected: %d)", id, frames, rejected)

	if remaining == 0 {
		s.source.Lost("ingest peer disconnected")
	}
}

func (s *Server) setPeersLocked() {
	if s.metrics != nil {
		s.metrics.IngestPeers.Store(int64(len(s.peers)))
	}
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return len(s.peers)
}

// Close disconnects every peer.
func (s *Server) Close() error {
	s.peersMu.RLock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.peersMu.RUnlock()

	for _, id := range ids {
		s.RemovePeer(id)
	}
	return nil
}

// ServeHTTP handles POST /api/ingest/offer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offer data")
		return
	}

	answer, err := s.HandleOffer(body)
	switch {
	case errors.Is(err, ErrTooManyPeers):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logger.Warn("Ingest", "Offer rejected: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
