// Package operator is the operator-facing HTTP surface: session control,
// live violation feeds and the ingest signalling endpoint.
package operator

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/internal/metrics"
	"github.com/dj-oyu/proctor-monitor/internal/session"
)

// historySize bounds the violation history kept for late subscribers.
const historySize = 8

// SerializedEvent carries one session event in both feed encodings.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 for SSE transport
}

// EventBroadcaster fans session events out to feed clients. It implements
// session.Notifier and never blocks the monitoring loop.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	latest  *session.Event
	history []session.Event
	metrics *metrics.Metrics
}

func NewEventBroadcaster(m *metrics.Metrics) *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (b *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, 16)
	b.clients[id] = ch
	b.setViewersLocked()

	logger.Debug("EventBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *EventBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		b.setViewersLocked()
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

func (b *EventBroadcaster) setViewersLocked() {
	if b.metrics != nil {
		b.metrics.ActiveViewers.Store(int64(len(b.clients)))
	}
}

// Viewers returns the number of connected feed clients.
func (b *EventBroadcaster) Viewers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Visible reports whether anyone is watching the feed. It gates the
// refresh pacer when pausing while hidden is enabled.
func (b *EventBroadcaster) Visible() bool {
	return b.Viewers() > 0
}

// Notify records ev and broadcasts it to every client.
func (b *EventBroadcaster) Notify(ev session.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	serialized, err := serializeEvent(ev)
	if err != nil {
		logger.Error("EventBroadcaster", "Serialize %s event: %v", ev.Type, err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &ev
	if ev.Type == session.EventViolations {
		b.history = append([]session.Event{ev}, b.history...)
		if len(b.history) > historySize {
			b.history = b.history[:historySize]
		}
	}

	for id, ch := range b.clients {
		select {
		case ch <- serialized:
		default:
			// Client too slow, skip this event for this client
			logger.Debug("EventBroadcaster", "Client #%d lagging, dropped %s event", id, ev.Type)
		}
	}
}

// Snapshot returns the latest event and the violation history, newest first.
func (b *EventBroadcaster) Snapshot() (*session.Event, []session.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var latest *session.Event
	if b.latest != nil {
		ev := *b.latest
		latest = &ev
	}
	history := make([]session.Event, len(b.history))
	copy(history, b.history)
	return latest, history
}

// Close disconnects every client.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	b.setViewersLocked()
}

// serializeEvent pre-renders ev as JSON and as a base64 protobuf Struct.
func serializeEvent(ev session.Event) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, err
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
