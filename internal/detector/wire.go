package detector

import (
	"strings"

	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// BoundingBox is the JSON box shape shared by the inference endpoints and
// the browser ingest.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// WireDetection is one detection in JSON form.
type WireDetection struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// WireResult is the response body of an inference endpoint.
type WireResult struct {
	FrameNumber int             `json:"frame_number,omitempty"`
	Detections  []WireDetection `json:"detections"`
}

// FaceClass is the class name that marks a face in mixed result lists.
const FaceClass = "face"

// ToDetection converts a wire detection. Entries named FaceClass become faces.
func (w WireDetection) ToDetection() types.Detection {
	box := types.Rect{X: w.BBox.X, Y: w.BBox.Y, W: w.BBox.W, H: w.BBox.H}
	if strings.EqualFold(w.ClassName, FaceClass) {
		return types.Face(box, w.Confidence)
	}
	return types.Object(w.ClassName, box, w.Confidence)
}
