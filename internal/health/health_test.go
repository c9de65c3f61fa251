package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestObserveThreshold(t *testing.T) {
	m := NewMonitor(2)
	if m.Overall() != Healthy {
		t.Fatalf("empty monitor should be healthy")
	}

	boom := errors.New("connection refused")
	m.Observe("event_sink", boom)
	if c, _ := m.Get("event_sink"); c.Status != Degraded || c.Consecutive != 1 {
		t.Fatalf("after one failure: %+v", c)
	}
	m.Observe("event_sink", boom)
	if c, _ := m.Get("event_sink"); c.Status != Unhealthy || c.Message != "connection refused" {
		t.Fatalf("after two failures: %+v", c)
	}
	m.Observe("event_sink", nil)
	if c, _ := m.Get("event_sink"); c.Status != Healthy || c.Consecutive != 0 {
		t.Fatalf("after recovery: %+v", c)
	}
}

func TestOverallIsWorst(t *testing.T) {
	m := NewMonitor(3)
	m.Update("frame_source", Healthy, "")
	m.Update("object_detector", Degraded, "slow")
	if m.Overall() != Degraded {
		t.Fatalf("Overall = %s", m.Overall())
	}
	m.Update("face_detector", Unhealthy, "down")
	if m.Overall() != Unhealthy {
		t.Fatalf("Overall = %s", m.Overall())
	}
	all := m.All()
	if len(all) != 3 || all[0].Name != "face_detector" {
		t.Fatalf("All not sorted: %+v", all)
	}
}

func TestHandler(t *testing.T) {
	m := NewMonitor(1)
	m.Observe("event_sink", errors.New("down"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Status != Unhealthy || len(rep.Components) != 1 {
		t.Fatalf("report = %+v", rep)
	}

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}
}
