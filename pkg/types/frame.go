package types

import (
	"image"
	"time"
)

// Frame represents a single captured video frame with metadata
type Frame struct {
	Image     image.Image // Decoded pixels (nil for annotation-only frames)
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Timestamp time.Time   // Frame capture timestamp
	FrameNum  uint64      // Sequential frame number

	// Annotations carries detections computed upstream (browser-side ingest).
	// Nil means the frame has not been analysed yet.
	Annotations []Detection
}

// Rect is an axis-aligned box in frame pixel coordinates
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CenterX returns the horizontal center of the box
func (r Rect) CenterX() float64 {
	return r.X + r.W/2
}

// DetectionKind discriminates the Detection variant
type DetectionKind uint8

// DetectionKind constants
const (
	DetectionObject DetectionKind = iota + 1
	DetectionFace
)

func (k DetectionKind) String() string {
	switch k {
	case DetectionObject:
		return "object"
	case DetectionFace:
		return "face"
	default:
		return "unknown"
	}
}

// Detection is a single detector output. Label is only meaningful for objects.
type Detection struct {
	Kind       DetectionKind
	Label      string
	Box        Rect
	Confidence float64
}

// Object builds an object detection
func Object(label string, box Rect, confidence float64) Detection {
	return Detection{Kind: DetectionObject, Label: label, Box: box, Confidence: confidence}
}

// Face builds a face detection
func Face(box Rect, confidence float64) Detection {
	return Detection{Kind: DetectionFace, Box: box, Confidence: confidence}
}
