// Package classifier maps one cycle's detections to the set of violations
// present in that frame.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/dj-oyu/proctor-monitor/internal/violation"
	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

// DefaultGazeThreshold is the fraction of frame width the face center may
// drift from the frame center before the candidate counts as looking away.
const DefaultGazeThreshold = 0.25

// Rules holds the tunable classification constants.
type Rules struct {
	RestrictedLabels []string
	GazeThreshold    float64
}

// DefaultRules returns the standard rule set.
func DefaultRules() Rules {
	return Rules{
		RestrictedLabels: []string{"cell phone", "book", "laptop"},
		GazeThreshold:    DefaultGazeThreshold,
	}
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	restricted    map[string]violation.Kind
	gazeThreshold float64
}

// New validates rules. Restricted labels must name object kinds of the
// violation enumeration, so tuning can narrow the set but never widen it.
func New(rules Rules) (*Classifier, error) {
	if rules.GazeThreshold <= 0 || rules.GazeThreshold >= 0.5 || math.IsNaN(rules.GazeThreshold) {
		return nil, fmt.Errorf("gaze threshold must be in (0, 0.5), got %v", rules.GazeThreshold)
	}

	restricted := make(map[string]violation.Kind, len(rules.RestrictedLabels))
	for _, label := range rules.RestrictedLabels {
		kind, err := violation.Parse(label)
		if err != nil {
			return nil, fmt.Errorf("restricted label: %w", err)
		}
		if !kind.IsObject() {
			return nil, fmt.Errorf("restricted label %q is not an object kind: %w", label, violation.ErrUnknownKind)
		}
		restricted[kind.String()] = kind
	}
	if len(restricted) == 0 {
		return nil, errors.New("restricted label set is empty")
	}

	return &Classifier{restricted: restricted, gazeThreshold: rules.GazeThreshold}, nil
}

// Classify returns every violation present in a single frame.
//
// The gaze rule is a horizontal-offset proxy for head pose and only runs when
// exactly one face is visible.
func (c *Classifier) Classify(detections []types.Detection, frameWidth, frameHeight int) violation.Set {
	var set violation.Set
	var faces []types.Rect

	for _, d := range detections {
		switch d.Kind {
		case types.DetectionObject:
			if kind, ok := c.restricted[d.Label]; ok {
				set = set.Add(kind)
			}
		case types.DetectionFace:
			faces = append(faces, d.Box)
		}
	}

	switch len(faces) {
	case 0:
		set = set.Add(violation.NoFace)
	case 1:
		if c.lookingAway(faces[0], frameWidth) {
			set = set.Add(violation.NotLookingAtScreen)
		}
	default:
		set = set.Add(violation.MultipleFaces)
	}

	return set
}

func (c *Classifier) lookingAway(face types.Rect, frameWidth int) bool {
	if frameWidth <= 0 {
		return false
	}
	w := float64(frameWidth)
	return math.Abs(face.CenterX()-w/2) > c.gazeThreshold*w
}

// Restricted returns the active restricted labels as kinds.
func (c *Classifier) Restricted() violation.Set {
	var set violation.Set
	for _, k := range c.restricted {
		set = set.Add(k)
	}
	return set
}
