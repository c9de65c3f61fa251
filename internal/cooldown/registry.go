// Package cooldown tracks when each violation kind was last emitted for a
// session and decides whether it may be emitted again.
package cooldown

import (
	"sync"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/violation"
)

// DefaultCooldown is the minimum gap between two emissions of the same kind
// for the same session.
const DefaultCooldown = 5000 * time.Millisecond

type key struct {
	session string
	kind    violation.Kind
}

// Registry is safe for concurrent use. Entries are only written on emission.
type Registry struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[key]time.Time
}

// NewRegistry creates a registry. A non-positive cooldown uses DefaultCooldown.
func NewRegistry(cooldown time.Duration) *Registry {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Registry{
		cooldown: cooldown,
		last:     make(map[key]time.Time),
	}
}

// Cooldown returns the configured window.
func (r *Registry) Cooldown() time.Duration {
	return r.cooldown
}

// TryEmit marks (session, kind) as emitted at now and returns true if it was
// eligible. An ineligible kind leaves its timestamp untouched.
func (r *Registry) TryEmit(sessionID string, kind violation.Kind, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{session: sessionID, kind: kind}
	if !r.eligibleLocked(k, now) {
		return false
	}
	r.last[k] = now
	return true
}

// Eligible reports whether kind could be emitted now without marking it.
func (r *Registry) Eligible(sessionID string, kind violation.Kind, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eligibleLocked(key{session: sessionID, kind: kind}, now)
}

// MarkEmitted records an emission unconditionally.
func (r *Registry) MarkEmitted(sessionID string, kind violation.Kind, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[key{session: sessionID, kind: kind}] = now
}

// LastEmitted returns the last emission time, if any.
func (r *Registry) LastEmitted(sessionID string, kind violation.Kind) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.last[key{session: sessionID, kind: kind}]
	return t, ok
}

// Prune removes every entry for sessionID and returns how many were dropped.
func (r *Registry) Prune(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.last {
		if k.session == sessionID {
			delete(r.last, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked (session, kind) pairs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.last)
}

func (r *Registry) eligibleLocked(k key, now time.Time) bool {
	last, ok := r.last[k]
	if !ok {
		return true
	}
	return now.Sub(last) > r.cooldown
}
