// Package reducer filters a cycle's raw violations down to the ones that
// are allowed to be reported now.
package reducer

import (
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/violation"
)

// Registry is the check-and-mark surface the reducer needs.
type Registry interface {
	TryEmit(sessionID string, kind violation.Kind, now time.Time) bool
}

// Reducer applies per-session cooldowns to raw violation sets.
type Reducer struct {
	registry Registry
}

func New(registry Registry) *Reducer {
	return &Reducer{registry: registry}
}

// Reduce returns the kinds of raw that passed their cooldown, in lexical
// order. Every returned kind has been marked emitted at now.
func (r *Reducer) Reduce(sessionID string, raw violation.Set, now time.Time) []violation.Kind {
	if raw.Empty() {
		return nil
	}
	var emitted []violation.Kind
	for _, kind := range raw.Kinds() {
		if r.registry.TryEmit(sessionID, kind, now) {
			emitted = append(emitted, kind)
		}
	}
	return emitted
}
