package violation

import "strings"

// Set is an unordered collection of kinds. The zero value is empty.
type Set uint8

// SetOf builds a set from the given kinds.
func SetOf(kinds ...Kind) Set {
	var s Set
	for _, k := range kinds {
		s = s.Add(k)
	}
	return s
}

// Add returns s with k included. Invalid kinds are ignored.
func (s Set) Add(k Kind) Set {
	if !k.Valid() {
		return s
	}
	return s | 1<<k
}

func (s Set) Has(k Kind) bool {
	return k.Valid() && s&(1<<k) != 0
}

func (s Set) Len() int {
	n := 0
	for v := s; v != 0; v &= v - 1 {
		n++
	}
	return n
}

func (s Set) Empty() bool {
	return s == 0
}

// Kinds returns the members in lexical order of their wire names.
func (s Set) Kinds() []Kind {
	kinds := make([]Kind, 0, s.Len())
	for k := Kind(0); k < numKinds; k++ {
		if s.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (s Set) String() string {
	return "{" + strings.Join(Names(s.Kinds()), ", ") + "}"
}
