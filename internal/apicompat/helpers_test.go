package apicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultOperatorURL    = "http://localhost:8080"
	defaultScoringURL     = "http://localhost:5000"
	defaultRequestTimeout = 2 * time.Second
)

type apiClient struct {
	baseURL string
	client  *http.Client
}

// newOperatorClient targets a running `proctor monitor`. Set
// PROCTOR_OPERATOR_URL to point elsewhere.
func newOperatorClient(t *testing.T) *apiClient {
	t.Helper()
	return newAPIClient(t, "PROCTOR_OPERATOR_URL", defaultOperatorURL, "/api/status")
}

// newScoringClient targets a running `proctor scoring`. Set
// PROCTOR_SCORING_URL to point elsewhere.
func newScoringClient(t *testing.T) *apiClient {
	t.Helper()
	return newAPIClient(t, "PROCTOR_SCORING_URL", defaultScoringURL, "/healthcheck")
}

func newAPIClient(t *testing.T, env, fallback, healthPath string) *apiClient {
	t.Helper()
	baseURL := os.Getenv(env)
	if baseURL == "" {
		baseURL = fallback
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+healthPath) {
		t.Skipf("server not reachable at %s (set %s to run)", baseURL, env)
	}

	return &apiClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *apiClient) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *apiClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return c.do(t, req)
}

func (c *apiClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return c.postRaw(t, path, "application/json", data)
}

func (c *apiClient) postForm(t *testing.T, path string, form url.Values) (*http.Response, []byte) {
	t.Helper()
	return c.postRaw(t, path, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func (c *apiClient) postRaw(t *testing.T, path, contentType string, data []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(t, req)
}

// openStream returns the response headers of a streaming endpoint and
// closes it without waiting for an event.
func openStream(url string, timeout time.Duration) (http.Header, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.Header, resp.StatusCode, nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func decodeJSONSlice(t *testing.T, body []byte) []any {
	t.Helper()
	var payload []any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertCandidate(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireNumber(t, payload["id"], field+".id")
	requireString(t, payload["name"], field+".name")
	requireNumber(t, payload["integrity_score"], field+".integrity_score")
	requireString(t, payload["start_time"], field+".start_time")
	if payload["end_time"] != nil {
		requireString(t, payload["end_time"], field+".end_time")
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	sess := requireMap(t, payload["session"], "session")
	state := requireString(t, sess["state"], "session.state")
	switch state {
	case "idle", "starting", "monitoring", "stopping":
	default:
		t.Fatalf("unexpected session.state %q", state)
	}
	requireNumber(t, sess["generation"], "session.generation")
	requireNumber(t, payload["viewers"], "viewers")
	requireNumber(t, payload["timestamp"], "timestamp")

	history := requireSlice(t, payload["violation_history"], "violation_history")
	for i, raw := range history {
		item := requireMap(t, raw, fmt.Sprintf("violation_history[%d]", i))
		if requireString(t, item["type"], "violation_history.type") != "violations" {
			t.Fatalf("violation_history[%d] has type %v", i, item["type"])
		}
		for _, k := range requireSlice(t, item["emitted"], "violation_history.emitted") {
			name := requireString(t, k, "violation_history.emitted[]")
			if strings.TrimSpace(name) == "" {
				t.Fatalf("empty violation kind in history")
			}
		}
	}
}
