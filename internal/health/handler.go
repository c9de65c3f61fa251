package health

import (
	"encoding/json"
	"net/http"
)

// Report is the /health response body.
type Report struct {
	Status     Status        `json:"status"`
	Components []Check       `json:"components"`
	Process    *ProcessStats `json:"process,omitempty"`
}

// Handler serves the monitor's status. Unhealthy components yield 503.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rep := Report{Status: m.Overall(), Components: m.All()}
		if stats, err := SelfStats(); err == nil {
			rep.Process = &stats
		}

		code := http.StatusOK
		if rep.Status == Unhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
	})
}
