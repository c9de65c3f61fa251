package apicompat

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
)

func addCandidate(t *testing.T, client *apiClient, name string) int {
	t.Helper()
	resp, body := client.postForm(t, "/add-candidate", url.Values{"name": {name}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /add-candidate status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	assertCandidate(t, payload, "candidate")
	if payload["end_time"] != nil {
		t.Fatalf("new candidate already ended: %v", payload["end_time"])
	}
	return int(requireNumber(t, payload["id"], "id"))
}

func TestScoringCandidateLifecycle(t *testing.T) {
	client := newScoringClient(t)
	id := addCandidate(t, client, "compat-lifecycle")

	resp, body := client.get(t, "/candidates")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /candidates status = %d", resp.StatusCode)
	}
	found := false
	for i, raw := range decodeJSONSlice(t, body) {
		c := requireMap(t, raw, fmt.Sprintf("candidates[%d]", i))
		assertCandidate(t, c, fmt.Sprintf("candidates[%d]", i))
		if int(c["id"].(float64)) == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("candidate %d missing from /candidates", id)
	}

	resp, body = client.postForm(t, "/end-session", url.Values{"candidate_id": {fmt.Sprint(id)}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /end-session status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["status"], "status") != "success" {
		t.Fatalf("end-session status = %v", payload["status"])
	}
	if int(requireNumber(t, payload["candidate_id"], "candidate_id")) != id {
		t.Fatalf("end-session candidate_id = %v", payload["candidate_id"])
	}
}

func TestScoringLogEventsLegacyForm(t *testing.T) {
	client := newScoringClient(t)
	id := addCandidate(t, client, "compat-log")

	form := url.Values{
		"candidate_id": {fmt.Sprint(id)},
		"events":       {`["cell phone","no_face_detected"]`},
	}
	resp, body := client.postForm(t, "/log-events", form)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /log-events status = %d body=%s", resp.StatusCode, body)
	}
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["status"], "status") != "success" {
		t.Fatalf("log-events status = %v", payload["status"])
	}
	events := requireSlice(t, payload["events"], "events")
	if len(events) != 2 || events[0] != "cell phone" {
		t.Fatalf("log-events events = %v", events)
	}
	score := requireNumber(t, payload["score"], "score")

	resp, body = client.get(t, fmt.Sprintf("/generate-report?candidate_id=%d", id))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /generate-report status = %d", resp.StatusCode)
	}
	report := decodeJSONMap(t, body)
	candidate := requireMap(t, report["candidate"], "candidate")
	if requireNumber(t, candidate["integrity_score"], "candidate.integrity_score") != score {
		t.Fatalf("report score %v != logged score %v", candidate["integrity_score"], score)
	}
}

func TestScoringLogEventsUnknownCandidate(t *testing.T) {
	client := newScoringClient(t)
	resp, body := client.postJSON(t, "/log-events", map[string]any{
		"session_id": "999999999",
		"events":     []string{"book"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("POST /log-events status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["status"], "status") != "error" {
		t.Fatalf("status = %v", payload["status"])
	}
	requireString(t, payload["message"], "message")
}
