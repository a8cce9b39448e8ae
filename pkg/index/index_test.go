package index

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mnohosten/laura-engine/pkg/document"
)

func mustSpec(t *testing.T, keys *document.Document, opts Options) Spec {
	t.Helper()
	spec, err := ParseSpec(keys, opts)
	if err != nil {
		t.Fatalf("ParseSpec failed: %v", err)
	}
	return spec
}

func sortedIDs(ids []uint64) []uint64 {
	out := append([]uint64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func loadIndex(t *testing.T, idx *Index, docs map[uint64]*document.Document) {
	t.Helper()
	for rid, doc := range docs {
		if err := idx.Insert(rid, doc); err != nil {
			t.Fatalf("Insert(%d) failed: %v", rid, err)
		}
	}
}

func TestIndexEqualityScan(t *testing.T) {
	idx := NewIndex(mustSpec(t, document.D("city", 1), Options{}))
	loadIndex(t, idx, map[uint64]*document.Document{
		1: document.D("city", "Prague"),
		2: document.D("city", "Brno"),
		3: document.D("city", "Prague"),
		4: document.D("name", "no city"),
	})

	res, err := idx.Scan(Bounds{Equals: []document.Value{document.String("Prague")}})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if diff := cmp.Diff([]uint64{1, 3}, sortedIDs(res.IDs)); diff != "" {
		t.Errorf("Scan mismatch (-want +got):\n%s", diff)
	}

	// Missing fields are indexed as null
	res, _ = idx.Scan(Bounds{Equals: []document.Value{document.Null()}})
	if diff := cmp.Diff([]uint64{4}, res.IDs); diff != "" {
		t.Errorf("Null scan mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexRangeScan(t *testing.T) {
	for _, kind := range []int{1, -1} {
		idx := NewIndex(mustSpec(t, document.D("age", kind), Options{}))
		docs := make(map[uint64]*document.Document)
		for i := uint64(1); i <= 10; i++ {
			docs[i] = document.D("age", int(i)*10)
		}
		docs[11] = document.D("age", "forty")
		loadIndex(t, idx, docs)

		res, err := idx.Scan(Bounds{Range: &Range{
			Lower: document.Int(30), HasLower: true, LowerInclusive: false,
			Upper: document.Int(60), HasUpper: true, UpperInclusive: true,
		}})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if diff := cmp.Diff([]uint64{4, 5, 6}, sortedIDs(res.IDs)); diff != "" {
			t.Errorf("direction %d: range mismatch (-want +got):\n%s", kind, diff)
		}
		if res.KeysExamined > 6 {
			t.Errorf("direction %d: expected a bounded scan, examined %d keys", kind, res.KeysExamined)
		}
	}
}

func TestIndexCompoundPrefix(t *testing.T) {
	idx := NewIndex(mustSpec(t, document.D("user_id", 1, "age", -1), Options{}))
	loadIndex(t, idx, map[uint64]*document.Document{
		1: document.D("user_id", "a", "age", 20),
		2: document.D("user_id", "a", "age", 35),
		3: document.D("user_id", "b", "age", 40),
		4: document.D("user_id", "a", "age", 50),
	})

	res, _ := idx.Scan(Bounds{
		Equals: []document.Value{document.String("a")},
		Range:  &Range{Lower: document.Int(30), HasLower: true, LowerInclusive: true},
	})
	// Descending on age: larger ages come first
	if diff := cmp.Diff([]uint64{4, 2}, res.IDs); diff != "" {
		t.Errorf("Compound scan mismatch (-want +got):\n%s", diff)
	}

	if _, err := idx.Scan(Bounds{Equals: []document.Value{document.String("a"), document.Int(1), document.Int(2)}}); !errors.Is(err, document.ErrValidation) {
		t.Errorf("Expected ErrValidation for oversized bounds, got %v", err)
	}
}

func TestIndexMultikey(t *testing.T) {
	idx := NewIndex(mustSpec(t, document.D("tags", 1), Options{}))
	loadIndex(t, idx, map[uint64]*document.Document{
		1: document.D("tags", document.A("go", "db", "go")),
		2: document.D("tags", document.A("rust")),
		3: document.D("tags", "go"),
	})

	res, _ := idx.Scan(Bounds{Equals: []document.Value{document.String("go")}})
	if diff := cmp.Diff([]uint64{1, 3}, sortedIDs(res.IDs)); diff != "" {
		t.Errorf("Multikey scan mismatch (-want +got):\n%s", diff)
	}
	if st := idx.Stats(); st.Entries != 4 || st.UniqueKeys != 3 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestIndexRemove(t *testing.T) {
	idx := NewIndex(mustSpec(t, document.D("items.sku", 1), Options{}))
	doc := document.D("items", document.A(document.D("sku", "x"), document.D("sku", "y")))
	idx.Insert(1, doc)
	idx.Remove(1, doc)

	if st := idx.Stats(); st.Entries != 0 || st.UniqueKeys != 0 {
		t.Errorf("Expected empty index after remove, got %+v", st)
	}
}

func TestIndexUniqueness(t *testing.T) {
	idx := NewIndex(mustSpec(t, document.D("email", 1), Options{Unique: true}))

	if err := idx.Insert(1, document.D("email", "alice@example.com")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err := idx.Insert(2, document.D("email", "alice@example.com"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
	if st := idx.Stats(); st.Entries != 1 {
		t.Errorf("Rejected insert must leave index unchanged, got %+v", st)
	}

	// Re-indexing the owner is not a conflict
	if err := idx.Insert(1, document.D("email", "alice@example.com")); err != nil {
		t.Errorf("Re-insert of owner failed: %v", err)
	}

	idx.Remove(1, document.D("email", "alice@example.com"))
	if err := idx.Insert(2, document.D("email", "alice@example.com")); err != nil {
		t.Errorf("Insert after owner removal failed: %v", err)
	}
}

func TestIndexNumericKeysNormalize(t *testing.T) {
	idx := NewIndex(mustSpec(t, document.D("n", 1), Options{Unique: true}))
	idx.Insert(1, document.D("n", 1))
	if err := idx.Insert(2, document.D("n", 1.0)); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("Expected 1 and 1.0 to collide, got %v", err)
	}
}

func TestNewPicksKind(t *testing.T) {
	if _, ok := New(mustSpec(t, document.D("loc", "2dsphere"), Options{})).(*GeoIndex); !ok {
		t.Error("Expected GeoIndex for 2dsphere spec")
	}
	if _, ok := New(mustSpec(t, document.D("a", 1), Options{})).(*Index); !ok {
		t.Error("Expected Index for ascending spec")
	}
}
