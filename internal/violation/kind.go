package violation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned when a name is not one of the six violation kinds.
var ErrUnknownKind = errors.New("unknown violation kind")

// Kind is a closed enumeration of reportable violations.
// Declaration order matches lexical order of the wire names.
type Kind uint8

const (
	Book Kind = iota
	NotLookingAtScreen
	CellPhone
	Laptop
	MultipleFaces
	NoFace

	numKinds
)

var kindNames = [numKinds]string{
	Book:               "book",
	NotLookingAtScreen: "candidate_not_looking_at_screen",
	CellPhone:          "cell phone",
	Laptop:             "laptop",
	MultipleFaces:      "multiple_faces_detected",
	NoFace:             "no_face_detected",
}

var kindFromName = map[string]Kind{
	"book":                            Book,
	"candidate_not_looking_at_screen": NotLookingAtScreen,
	"cell phone":                      CellPhone,
	"laptop":                          Laptop,
	"multiple_faces_detected":         MultipleFaces,
	"no_face_detected":                NoFace,
}

// All returns every kind in lexical order.
func All() []Kind {
	kinds := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Parse maps a wire name to its Kind.
func Parse(name string) (Kind, error) {
	if k, ok := kindFromName[strings.TrimSpace(name)]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Valid reports whether k is a member of the enumeration.
func (k Kind) Valid() bool {
	return k < numKinds
}

// IsObject reports whether k is produced by the prohibited-object rule.
func (k Kind) IsObject() bool {
	return k == Book || k == CellPhone || k == Laptop
}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, k)
	}
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Names converts kinds to their wire names, preserving order.
func Names(kinds []Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
