package idgen

import (
	"testing"

	"github.com/google/uuid"
)

func parse(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("uuid.Parse(%q) error: %v", s, err)
	}
	return id
}

func TestV4_NewID(t *testing.T) {
	t.Run("generates canonical UUID v4 text", func(t *testing.T) {
		s, err := NewV4().NewID()
		if err != nil {
			t.Fatalf("NewID() unexpected error: %v", err)
		}
		if len(s) != 36 {
			t.Fatalf("len(id) = %d, want 36", len(s))
		}
		if v := parse(t, s).Version(); v != 4 {
			t.Fatalf("UUID version = %d, want 4", v)
		}
	})

	t.Run("generates distinct values", func(t *testing.T) {
		gen := NewV4()
		seen := make(map[string]struct{}, 100)
		for range 100 {
			s, err := gen.NewID()
			if err != nil {
				t.Fatalf("NewID() unexpected error: %v", err)
			}
			if _, ok := seen[s]; ok {
				t.Fatalf("duplicate id %s", s)
			}
			seen[s] = struct{}{}
		}
	})
}

func TestV7_NewID(t *testing.T) {
	for _, gen := range []Generator{NewV7(), NewV7(WithRetries(0)), NewV7(WithRetries(-3))} {
		s, err := gen.NewID()
		if err != nil {
			t.Fatalf("NewID() unexpected error: %v", err)
		}
		if v := parse(t, s).Version(); v != 7 {
			t.Fatalf("UUID version = %d, want 7", v)
		}
	}
}

func TestWithRetries(t *testing.T) {
	g := &v7Gen{maxRetries: 1}
	WithRetries(3)(g)
	if g.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", g.maxRetries)
	}
	WithRetries(-1)(g)
	if g.maxRetries != 3 {
		t.Errorf("negative retries changed maxRetries to %d", g.maxRetries)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		version Version
		want    uuid.Version
	}{
		{"v4", V4, 4},
		{"v7", V7, 7},
		{"unknown defaults to v4", Version(9), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.version).NewID()
			if err != nil {
				t.Fatalf("NewID() unexpected error: %v", err)
			}
			if got := parse(t, s).Version(); got != tt.want {
				t.Errorf("version = %d, want %d", got, tt.want)
			}
		})
	}
}
