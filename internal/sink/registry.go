package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownCandidate means the registry does not list the candidate.
var ErrUnknownCandidate = errors.New("candidate not found in registry")

// Candidate is one entry of GET /candidates.
type Candidate struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	IntegrityScore float64    `json:"integrity_score"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
}

// Registry reads and closes candidate sessions on the scoring backend.
type Registry struct {
	baseURL string
	client  *http.Client
}

// NewRegistry talks to the backend rooted at baseURL.
func NewRegistry(baseURL string, httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Registry{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}
}

// RegistryBase derives the backend root from an event sink URL.
func RegistryBase(sinkURL string) (string, error) {
	u, err := url.Parse(sinkURL)
	if err != nil {
		return "", fmt.Errorf("parse sink url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("sink url %q has no scheme or host", sinkURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (r *Registry) URL() string {
	return r.baseURL
}

// Candidate looks the candidate up in the registry listing.
func (r *Registry) Candidate(ctx context.Context, candidateID string) (Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/candidates", nil)
	if err != nil {
		return Candidate{}, err
	}
	req.Header.Set("Accept", ContentTypeJSON)

	resp, err := r.client.Do(req)
	if err != nil {
		return Candidate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Candidate{}, fmt.Errorf("candidate registry returned %s", resp.Status)
	}
	var list []Candidate
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&list); err != nil {
		return Candidate{}, fmt.Errorf("decode candidates: %w", err)
	}
	for _, c := range list {
		if strconv.FormatInt(c.ID, 10) == candidateID {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%w: %s", ErrUnknownCandidate, candidateID)
}

// Score returns the candidate's current integrity score.
func (r *Registry) Score(ctx context.Context, candidateID string) (float64, error) {
	c, err := r.Candidate(ctx, candidateID)
	if err != nil {
		return 0, err
	}
	return c.IntegrityScore, nil
}

// EndSession stamps the candidate's end time.
func (r *Registry) EndSession(ctx context.Context, candidateID string) error {
	form := url.Values{"candidate_id": {candidateID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/end-session",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentTypeForm)
	req.Header.Set("Accept", ContentTypeJSON)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out Response
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode != http.StatusOK || out.Status == "error" {
		msg := out.Message
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("end session %s: %s", candidateID, msg)
	}
	return nil
}
