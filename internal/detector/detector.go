// Package detector adapts inference backends to the monitor's object and
// face detector contracts.
package detector

import (
	"context"

	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// ObjectDetector returns labelled object detections for a frame.
type ObjectDetector interface {
	DetectObjects(ctx context.Context, frame *types.Frame) ([]types.Detection, error)
}

// FaceDetector returns face detections for a frame.
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame *types.Frame) ([]types.Detection, error)
}

// Loader is implemented by detectors that need warm-up before monitoring.
type Loader interface {
	Load(ctx context.Context) error
}

// Annotated serves detections that arrived attached to the frame.
type Annotated struct{}

func (Annotated) DetectObjects(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	return filterKind(frame.Annotations, types.DetectionObject), ctx.Err()
}

func (Annotated) DetectFaces(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	return filterKind(frame.Annotations, types.DetectionFace), ctx.Err()
}

func filterKind(dets []types.Detection, kind types.DetectionKind) []types.Detection {
	var out []types.Detection
	for _, d := range dets {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
