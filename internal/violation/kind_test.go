package violation

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"
)

func TestKindOrderIsLexical(t *testing.T) {
	names := Names(All())
	if len(names) != 6 {
		t.Fatalf("expected 6 kinds, got %d", len(names))
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("kinds not in lexical order: %v", names)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"cell phone", CellPhone},
		{"book", Book},
		{"laptop", Laptop},
		{"no_face_detected", NoFace},
		{"multiple_faces_detected", MultipleFaces},
		{"candidate_not_looking_at_screen", NotLookingAtScreen},
	}
	for _, tt := range tests {
		got, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	for _, bad := range []string{"", "keyboard", "Cell Phone", "cell_phone"} {
		if _, err := Parse(bad); !errors.Is(err, ErrUnknownKind) {
			t.Errorf("Parse(%q) error = %v, want ErrUnknownKind", bad, err)
		}
	}
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal([]Kind{CellPhone, NoFace})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["cell phone","no_face_detected"]` {
		t.Fatalf("unexpected json: %s", data)
	}

	var k Kind
	if err := json.Unmarshal([]byte(`"tv"`), &k); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := json.Marshal(Kind(42)); err == nil {
		t.Fatal("expected error marshalling invalid kind")
	}
}

func TestSet(t *testing.T) {
	s := SetOf(NoFace, Book, Book, CellPhone)
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if !s.Has(Book) || s.Has(Laptop) {
		t.Fatalf("unexpected membership: %v", s)
	}
	got := Names(s.Kinds())
	want := []string{"book", "cell phone", "no_face_detected"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Kinds = %v, want %v", got, want)
		}
	}
	if !Set(0).Empty() {
		t.Fatal("zero set should be empty")
	}
	if SetOf(Kind(200)) != 0 {
		t.Fatal("invalid kinds must not be added")
	}
}
