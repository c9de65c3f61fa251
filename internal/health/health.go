// Package health tracks per-component status for the monitor's collaborators.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
)

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Check stores the latest health result for a named component.
type Check struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Consecutive int       `json:"consecutive_failures"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Monitor tracks health checks for multiple components.
type Monitor struct {
	mu        sync.RWMutex
	checks    map[string]Check
	threshold int
}

// NewMonitor creates a monitor. A component turns unhealthy after threshold
// consecutive failures; fewer failures mark it degraded.
func NewMonitor(threshold int) *Monitor {
	if threshold <= 0 {
		threshold = 3
	}
	return &Monitor{
		checks:    make(map[string]Check),
		threshold: threshold,
	}
}

// Update records the health status for a named component.
func (m *Monitor) Update(name string, status Status, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateLocked(name, status, message, m.checks[name].Consecutive)
}

func (m *Monitor) updateLocked(name string, status Status, message string, consecutive int) {
	prev, seen := m.checks[name]
	m.checks[name] = Check{
		Name:        name,
		Status:      status,
		Message:     message,
		Consecutive: consecutive,
		UpdatedAt:   time.Now(),
	}

	if !seen || prev.Status != status {
		if status == Healthy {
			logger.Info("Health", "%s is %s", name, status)
		} else {
			logger.Warn("Health", "%s is %s: %s", name, status, message)
		}
	}
}

// Observe folds the outcome of one call into the component's status.
func (m *Monitor) Observe(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		m.updateLocked(name, Healthy, "", 0)
		return
	}

	n := m.checks[name].Consecutive + 1
	status := Degraded
	if n >= m.threshold {
		status = Unhealthy
	}
	m.updateLocked(name, status, err.Error(), n)
}

// Get returns the health check for a named component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all registered checks.
// If no checks are registered, returns Healthy.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	worst := Healthy
	for _, c := range m.checks {
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns a snapshot of all current health checks, sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func statusRank(s Status) int {
	switch s {
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 0
	}
}
