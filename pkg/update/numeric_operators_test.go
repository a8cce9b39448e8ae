package update

import (
	"errors"
	"testing"

	"github.com/mnohosten/laura-engine/pkg/document"
)

func TestNumericMulOperator(t *testing.T) {
	u := mustCompile(t, document.D("$mul", document.D("price", 1.5, "qty", 2)))
	next := mustApply(t, u, document.D("price", 10))

	if v, _ := next.Get("price"); !document.Equal(v, document.Int(15)) {
		t.Errorf("price = %v, want 15", v)
	}
	// Missing fields are set to 0
	if v, _ := next.Get("qty"); !document.Equal(v, document.Int(0)) {
		t.Errorf("qty = %v, want 0", v)
	}

	if _, _, err := u.Apply(document.D("price", "ten"), false); !errors.Is(err, document.ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch, got %v", err)
	}
}

func TestNumericMinOperator(t *testing.T) {
	tests := []struct {
		name    string
		current *document.Document
		want    document.Value
		changed bool
	}{
		{"lower wins", document.D("low", 50), document.Int(20), true},
		{"higher ignored", document.D("low", 10), document.Int(10), false},
		{"missing set", document.NewDocument(), document.Int(20), true},
		{"cross type order", document.D("low", "text"), document.Int(20), true},
	}

	u := mustCompile(t, document.D("$min", document.D("low", 20)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed, err := u.Apply(tt.current, false)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if v, _ := next.Get("low"); !document.Equal(v, tt.want) {
				t.Errorf("low = %v, want %v", v, tt.want)
			}
			if (len(changed) > 0) != tt.changed {
				t.Errorf("changed = %v, want %v", changed, tt.changed)
			}
		})
	}
}

func TestNumericMaxOperator(t *testing.T) {
	u := mustCompile(t, document.D("$max", document.D("high", 100)))

	next := mustApply(t, u, document.D("high", 50))
	if v, _ := next.Get("high"); !document.Equal(v, document.Int(100)) {
		t.Errorf("high = %v, want 100", v)
	}

	next = mustApply(t, u, document.D("high", 150))
	if v, _ := next.Get("high"); !document.Equal(v, document.Int(150)) {
		t.Errorf("high = %v, want 150", v)
	}
}

func TestBitOperator(t *testing.T) {
	u := mustCompile(t, document.D("$bit", document.D(
		"flags", document.D("and", 0b1100, "or", 0b0001),
		"fresh", document.D("xor", 0b0101),
	)))
	next := mustApply(t, u, document.D("flags", 0b1010))

	if v, _ := next.Get("flags"); !document.Equal(v, document.Int(0b1001)) {
		t.Errorf("flags = %v, want 9", v)
	}
	if v, _ := next.Get("fresh"); !document.Equal(v, document.Int(0b0101)) {
		t.Errorf("fresh = %v, want 5", v)
	}

	if _, _, err := u.Apply(document.D("flags", 1.5), false); !errors.Is(err, document.ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch, got %v", err)
	}
}

func TestNumericOperatorsCombined(t *testing.T) {
	u := mustCompile(t, document.D(
		"$inc", document.D("stock", -3),
		"$mul", document.D("price", 2),
		"$max", document.D("peak", 7),
	))
	next := mustApply(t, u, document.D("stock", 10, "price", 4, "peak", 5))

	want := `{"stock": 7, "price": 8, "peak": 7}`
	if next.String() != want {
		t.Errorf("Got %s, want %s", next, want)
	}
}
