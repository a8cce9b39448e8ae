package index

import (
	"errors"
	"testing"

	"github.com/mnohosten/laura-engine/pkg/document"
)

func TestParseSpecNames(t *testing.T) {
	tests := []struct {
		keys *document.Document
		want string
	}{
		{document.D("name", 1), "name_1"},
		{document.D("user_id", 1, "age", -1), "user_id_1_age_-1"},
		{document.D("location", "2dsphere"), "location_2dsphere"},
		{document.D("pos", "2d"), "pos_2d"},
	}

	for _, tt := range tests {
		spec, err := ParseSpec(tt.keys, Options{})
		if err != nil {
			t.Fatalf("ParseSpec(%v) failed: %v", tt.keys, err)
		}
		if spec.Name != tt.want {
			t.Errorf("Expected name %q, got %q", tt.want, spec.Name)
		}
		if !spec.KeyDocument().Equal(tt.keys) {
			t.Errorf("Key document %v does not round trip %v", spec.KeyDocument(), tt.keys)
		}
	}

	spec, _ := ParseSpec(document.D("a", 1), Options{Name: "custom", Unique: true})
	if spec.Name != "custom" || !spec.Unique {
		t.Errorf("Options not applied: %+v", spec)
	}
}

func TestParseSpecInvalid(t *testing.T) {
	bad := []*document.Document{
		nil,
		document.NewDocument(),
		document.D("a", 0),
		document.D("a", "hashed"),
		document.D("a", true),
		document.D("loc", "2dsphere", "b", 1),
		document.D("a..b", 1),
	}
	for _, keys := range bad {
		if _, err := ParseSpec(keys, Options{}); !errors.Is(err, document.ErrValidation) {
			t.Errorf("ParseSpec(%v): expected ErrValidation, got %v", keys, err)
		}
	}

	if _, err := ParseSpec(document.D("loc", "2d"), Options{Unique: true}); !errors.Is(err, document.ErrValidation) {
		t.Errorf("Expected unique geo index to be rejected, got %v", err)
	}
}

func TestSpecTouches(t *testing.T) {
	spec, _ := ParseSpec(document.D("address.city", 1), Options{})

	for path, want := range map[string]bool{
		"address.city":     true,
		"address":          true,
		"address.city.zip": true,
		"address.cityx":    false,
		"addr":             false,
		"name":             false,
	} {
		if got := spec.Touches(path); got != want {
			t.Errorf("Touches(%q) = %v, want %v", path, got, want)
		}
	}
}
