package document

import (
	"errors"
	"testing"
	"time"
)

func TestNewObjectIDUnique(t *testing.T) {
	seen := make(map[ObjectID]bool)
	for i := 0; i < 1000; i++ {
		id := NewObjectID()
		if seen[id] {
			t.Fatalf("Duplicate ObjectID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestObjectIDHexRoundTrip(t *testing.T) {
	id := NewObjectID()
	parsed, err := ObjectIDFromHex(id.Hex())
	if err != nil {
		t.Fatalf("ObjectIDFromHex failed: %v", err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}
}

func TestObjectIDFromHexInvalid(t *testing.T) {
	for _, s := range []string{"", "abc", "zzzzzzzzzzzzzzzzzzzzzzzz"} {
		if _, err := ObjectIDFromHex(s); !errors.Is(err, ErrValidation) {
			t.Errorf("ObjectIDFromHex(%q): expected ErrValidation, got %v", s, err)
		}
	}
}

func TestObjectIDTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewObjectID()
	if id.Timestamp().Before(before.Truncate(time.Second)) {
		t.Errorf("Timestamp %v is older than %v", id.Timestamp(), before)
	}
	if id.IsZero() {
		t.Error("New ObjectID should not be zero")
	}
}
