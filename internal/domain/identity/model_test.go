package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"Maria Silva", "maria silva", true},
		{"  Maria Silva ", "MARIA SILVA", true},
		{"José Souza", "JOSÉ SOUZA", true},
		// Composed vs decomposed é.
		{"Jos\u00e9", "Jose\u0301", true},
		{"Straße", "STRASSE", true},
		{"Maria  Silva", "Maria Silva", false},
		{"Jose", "José", false},
		{"Ana Costa", "Ana Costa Lima", false},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.a) == NormalizeName(tt.b); got != tt.same {
			t.Errorf("NormalizeName(%q) == NormalizeName(%q) = %v, want %v", tt.a, tt.b, got, tt.same)
		}
	}
}

func TestNewPatient(t *testing.T) {
	p, err := NewPatient("  Maria Silva  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.FullName != "Maria Silva" || p.NameKey != "maria silva" || !p.Active {
		t.Errorf("unexpected patient %+v", p)
	}

	if _, err := NewPatient("   "); !errors.Is(err, ErrNameRequired) {
		t.Errorf("expected ErrNameRequired, got %v", err)
	}
	if _, err := NewPatient(strings.Repeat("a", 256)); err == nil {
		t.Error("expected error for overlong name")
	}
}
