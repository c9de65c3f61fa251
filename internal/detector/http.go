package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// ErrNoImage is returned when a frame has no pixels to upload.
var ErrNoImage = errors.New("frame has no image")

// HTTPOptions configures an HTTPDetector.
type HTTPOptions struct {
	Client        *http.Client
	MinConfidence float64
	JPEGQuality   int
	// HealthURL is checked by Load. Empty derives <scheme>://<host>/health.
	HealthURL string
}

// HTTPDetector uploads each frame as a JPEG multipart "file" field and reads
// back a WireResult. One instance serves either objects or faces.
type HTTPDetector struct {
	endpoint string
	kind     types.DetectionKind
	client   *http.Client
	opts     HTTPOptions
}

func NewHTTPDetector(endpoint string, kind types.DetectionKind, opts HTTPOptions) *HTTPDetector {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 80
	}
	return &HTTPDetector{endpoint: endpoint, kind: kind, client: client, opts: opts}
}

func (d *HTTPDetector) DetectObjects(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	return d.detect(ctx, frame)
}

func (d *HTTPDetector) DetectFaces(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	return d.detect(ctx, frame)
}

// Load waits for the backend health endpoint to answer 200.
func (d *HTTPDetector) Load(ctx context.Context) error {
	healthURL := d.opts.HealthURL
	if healthURL == "" {
		u, err := url.Parse(d.endpoint)
		if err != nil {
			return fmt.Errorf("parse detector url: %w", err)
		}
		healthURL = (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/health"}).String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s detector not reachable: %w", d.kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s detector not ready: %s", d.kind, resp.Status)
	}
	logger.Debug("Detector", "%s detector ready at %s", d.kind, d.endpoint)
	return nil
}

func (d *HTTPDetector) detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, ErrNoImage
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fmt.Sprintf("frame_%d.jpg", frame.FrameNum))
	if err != nil {
		return nil, err
	}
	if err := jpeg.Encode(part, frame.Image, &jpeg.Options{Quality: d.opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s detector returned %s: %s", d.kind, resp.Status, bytes.TrimSpace(msg))
	}

	var result WireResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s detections: %w", d.kind, err)
	}

	out := make([]types.Detection, 0, len(result.Detections))
	for _, w := range result.Detections {
		if w.Confidence < d.opts.MinConfidence {
			continue
		}
		det := w.ToDetection()
		if d.kind == types.DetectionFace {
			det = types.Face(det.Box, det.Confidence)
		} else if det.Kind != types.DetectionObject {
			continue
		}
		out = append(out, det)
	}
	return out, nil
}
