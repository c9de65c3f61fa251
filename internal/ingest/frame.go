package ingest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/detector"
	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// FrameMessage is one DataChannel message from a browser peer: the frame
// geometry plus the detections it already ran locally. Image is an optional
// base64 JPEG for server-side detectors.
type FrameMessage struct {
	FrameNumber int                      `json:"frame_number,omitempty"`
	Width       int                      `json:"width"`
	Height      int                      `json:"height"`
	TimestampMs int64                    `json:"timestamp_ms,omitempty"`
	Detections  []detector.WireDetection `json:"detections"`
	Image       string                   `json:"image,omitempty"`
}

var errBadGeometry = errors.New("frame width and height must be positive")

// DecodeFrame parses a DataChannel message into an annotated frame.
func DecodeFrame(data []byte) (*types.Frame, error) {
	var msg FrameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame message: %w", err)
	}

	frame := &types.Frame{
		Width:       msg.Width,
		Height:      msg.Height,
		Annotations: make([]types.Detection, 0, len(msg.Detections)),
	}
	if msg.TimestampMs > 0 {
		frame.Timestamp = time.UnixMilli(msg.TimestampMs)
	}

	if msg.Image != "" {
		raw, err := base64.StdEncoding.DecodeString(msg.Image)
		if err != nil {
			return nil, fmt.Errorf("decode frame image: %w", err)
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode frame image: %w", err)
		}
		frame.Image = img
		b := img.Bounds()
		frame.Width, frame.Height = b.Dx(), b.Dy()
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, errBadGeometry
	}

	for _, d := range msg.Detections {
		frame.Annotations = append(frame.Annotations, d.ToDetection())
	}
	return frame, nil
}
