package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExportsCounters(t *testing.T) {
	m := New()
	m.Cycles.Add(3)
	m.ObserveEmitted([]string{"cell phone", "no_face_detected", "cell phone"})
	m.SetScore(85)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"proctor_cycles_total 3",
		"proctor_events_emitted_total 3",
		`proctor_events_emitted_by_kind_total{kind="cell phone"} 2`,
		"proctor_integrity_score 85",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestSetScoreFloorsAtZero(t *testing.T) {
	m := New()
	m.SetScore(-5)
	if m.Score() != 0 {
		t.Fatalf("Score = %v, want 0", m.Score())
	}
	m.SetScore(72.5)
	if got := m.Snapshot().Score; got != 72.5 {
		t.Fatalf("Snapshot score = %v, want 72.5", got)
	}
}
