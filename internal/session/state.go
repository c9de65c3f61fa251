package session

import (
	"encoding/json"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/violation"
)

// State is the controller's lifecycle position.
type State int

const (
	Idle State = iota
	Starting
	Monitoring
	Stopping
)

var stateNames = map[State]string{
	Idle:       "idle",
	Starting:   "starting",
	Monitoring: "monitoring",
	Stopping:   "stopping",
}

var stateFromName = map[string]State{
	"idle":       Idle,
	"starting":   Starting,
	"monitoring": Monitoring,
	"stopping":   Stopping,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stateFromName[name]; ok {
		*s = v
	}
	return nil
}

// Token identifies one monitoring run. A new Select always bumps Generation,
// so results carrying an older token are stale even for the same session id.
type Token struct {
	SessionID  string `json:"session_id"`
	Generation uint64 `json:"generation"`
}

// EventType tags operator notifications.
type EventType string

const (
	EventState      EventType = "state"
	EventViolations EventType = "violations"
	EventScore      EventType = "score"
	EventError      EventType = "error"
)

// Event is pushed to the Notifier on every observable change.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	State     State            `json:"state"`
	Raw       []violation.Kind `json:"raw,omitempty"`
	Emitted   []violation.Kind `json:"emitted,omitempty"`
	Score     *float64         `json:"score,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Notifier must not block.
type Notifier interface {
	Notify(Event)
}

// Status is a point-in-time view of the controller.
type Status struct {
	State         State            `json:"state"`
	SessionID     string           `json:"session_id,omitempty"`
	Generation    uint64           `json:"generation"`
	Score         *float64         `json:"score,omitempty"`
	LastEmitted   []violation.Kind `json:"last_emitted,omitempty"`
	LastEmittedAt *time.Time       `json:"last_emitted_at,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
}
