package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoScore means the backend answered without a usable score.
var ErrNoScore = errors.New("event sink response has no score")

// Response is the backend's reply to a batch.
type Response struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Events  []string `json:"events,omitempty"`
	Score   *float64 `json:"score"`
}

// Client posts batches to a scoring backend. It never retries.
type Client struct {
	url    string
	format Format
	client *http.Client
}

func NewClient(url string, format Format, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if format == "" {
		format = FormatJSON
	}
	return &Client{url: url, format: format, client: httpClient}
}

func (c *Client) URL() string {
	return c.url
}

// Send transmits one batch and returns the session's updated score.
func (c *Client) Send(ctx context.Context, b Batch) (float64, error) {
	body, contentType, err := Encode(c.format, b)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", ContentTypeJSON)
	if b.BatchID != "" {
		req.Header.Set("X-Batch-ID", b.BatchID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("read sink response: %w", err)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("event sink returned %s", resp.Status)
		}
		return 0, fmt.Errorf("decode sink response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Status == "error" {
		msg := out.Message
		if msg == "" {
			msg = resp.Status
		}
		return 0, fmt.Errorf("event sink rejected batch: %s", msg)
	}
	if out.Score == nil {
		return 0, ErrNoScore
	}
	return *out.Score, nil
}
