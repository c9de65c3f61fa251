// Package scoring is a reference event sink: it keeps a candidate registry,
// applies per-event deductions to an integrity score and archives every
// logged event.
package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy maps event names to score deductions.
type Policy struct {
	MaxScore   float64            `yaml:"max_score"`
	Deductions map[string]float64 `yaml:"deductions"`
}

// DefaultPolicy mirrors the deduction table the monitor was tuned against.
// Labels outside the monitor's violation set are kept so that other clients
// posting raw detector labels are still scored.
func DefaultPolicy() Policy {
	return Policy{
		MaxScore: 100,
		Deductions: map[string]float64{
			"no_face_detected":                10,
			"candidate_not_looking_at_screen": 5,
			"multiple_faces_detected":         15,
			"cell phone":                      20,
			"book":                            5,
			"laptop":                          5,
			"keyboard":                        5,
			"mouse":                           5,
			"tv":                              5,
			"remote":                          5,
		},
	}
}

// LoadPolicy reads a YAML policy. Keys absent from the file keep their
// default deduction; max_score falls back to the default when unset.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return p, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if file.MaxScore > 0 {
		p.MaxScore = file.MaxScore
	}
	for name, d := range file.Deductions {
		if d < 0 {
			return p, fmt.Errorf("policy %s: negative deduction for %q", path, name)
		}
		p.Deductions[name] = d
	}
	return p, nil
}

// Deduction returns the penalty for name and whether the policy knows it.
func (p Policy) Deduction(name string) (float64, bool) {
	d, ok := p.Deductions[name]
	return d, ok
}
