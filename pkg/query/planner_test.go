package query

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/index"
)

func mustIndex(t *testing.T, keys *document.Document, opts index.Options) index.Indexer {
	t.Helper()
	spec, err := index.ParseSpec(keys, opts)
	if err != nil {
		t.Fatalf("ParseSpec(%v) failed: %v", keys, err)
	}
	return index.New(spec)
}

func TestPlanCollectionScan(t *testing.T) {
	planner := NewQueryPlanner([]index.Indexer{
		mustIndex(t, document.D("age", 1), index.Options{}),
	})

	plan, err := planner.Plan(mustCompile(t, document.D("name", "Alice")))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.UseIndex() {
		t.Errorf("Expected collection scan, got %s on %s", plan.ScanType, plan.IndexName)
	}
	if got := plan.Document().String(); got != `{"stage": "COLLSCAN"}` {
		t.Errorf("Unexpected explain %s", got)
	}
}

func TestPlanPrefersEqualityPrefix(t *testing.T) {
	planner := NewQueryPlanner([]index.Indexer{
		mustIndex(t, document.D("age", 1), index.Options{}),
		mustIndex(t, document.D("status", 1, "age", 1), index.Options{}),
	})

	plan, err := planner.Plan(mustCompile(t, document.D("status", "A", "age", document.D("$gt", 20))))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.IndexName != "status_1_age_1" {
		t.Fatalf("Expected status_1_age_1, got %s", plan.IndexName)
	}
	if plan.ScanType != ScanTypeIndexRange {
		t.Errorf("Expected range scan, got %v", plan.ScanType)
	}
	if len(plan.Bounds.Equals) != 1 || plan.Bounds.Range == nil {
		t.Fatalf("Unexpected bounds %+v", plan.Bounds)
	}
	if diff := cmp.Diff([]string{"status", "age"}, plan.IndexedFields); diff != "" {
		t.Errorf("IndexedFields mismatch (-want +got):\n%s", diff)
	}

	bounds, _ := plan.Document().Get("indexBounds")
	want := `{"status": ["[\"A\", \"A\"]"], "age": ["(20, \"\")"]}`
	if bounds.String() != want {
		t.Errorf("indexBounds = %s, want %s", bounds, want)
	}
}

func TestPlanExactMatch(t *testing.T) {
	planner := NewQueryPlanner([]index.Indexer{
		mustIndex(t, document.D("email", 1), index.Options{Unique: true}),
	})
	plan, err := planner.Plan(mustCompile(t, document.D("email", "a@example.com")))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.ScanType != ScanTypeIndexExact {
		t.Errorf("Expected exact scan, got %v", plan.ScanType)
	}
}

func TestPlanIgnoresNonIndexableConditions(t *testing.T) {
	planner := NewQueryPlanner([]index.Indexer{
		mustIndex(t, document.D("tags", 1), index.Options{}),
	})
	filters := []*document.Document{
		document.D("tags", document.A("a", "b")),
		document.D("tags", document.D("$ne", "a")),
		document.D("tags", document.D("$regex", "^a")),
		document.D("$or", document.A(document.D("tags", "a"))),
	}
	for _, filter := range filters {
		plan, err := planner.Plan(mustCompile(t, filter))
		if err != nil {
			t.Fatalf("Plan(%v) failed: %v", filter, err)
		}
		if plan.UseIndex() {
			t.Errorf("Plan(%v): expected collection scan", filter)
		}
	}
}

func TestPlanTieBreaksByName(t *testing.T) {
	planner := NewQueryPlanner([]index.Indexer{
		mustIndex(t, document.D("a", 1), index.Options{Name: "zeta"}),
		mustIndex(t, document.D("a", 1), index.Options{Name: "alpha"}),
	})
	plan, err := planner.Plan(mustCompile(t, document.D("a", 1)))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.IndexName != "alpha" {
		t.Errorf("Expected alpha, got %s", plan.IndexName)
	}
}

func TestPlanNearRequiresGeoIndex(t *testing.T) {
	filter := mustCompile(t, document.D("loc", document.D("$near", document.D(
		"$geometry", document.D("type", "Point", "coordinates", document.A(0, 0)),
	))))

	_, err := NewQueryPlanner(nil).Plan(filter)
	if !errors.Is(err, index.ErrIndexRequired) {
		t.Fatalf("Expected ErrIndexRequired, got %v", err)
	}

	planner := NewQueryPlanner([]index.Indexer{
		mustIndex(t, document.D("loc", "2dsphere"), index.Options{}),
	})
	plan, err := planner.Plan(filter)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.ScanType != ScanTypeGeoNear || plan.IndexName != "loc_2dsphere" {
		t.Errorf("Unexpected plan %s on %s", plan.ScanType, plan.IndexName)
	}
}

func TestPlanGeoWithin(t *testing.T) {
	planner := NewQueryPlanner([]index.Indexer{
		mustIndex(t, document.D("loc", "2d"), index.Options{}),
	})
	plan, err := planner.Plan(mustCompile(t, document.D("loc", document.D("$geoWithin", document.D(
		"$box", document.A(document.A(0, 0), document.A(5, 5)),
	)))))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.ScanType != ScanTypeGeoWithin {
		t.Errorf("Expected GEO_WITHIN, got %s", plan.ScanType)
	}
}

// Index-assisted execution must return exactly what a collection scan does.
func TestIndexScanMatchesCollectionScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	statuses := []interface{}{"A", "B", "C", nil, 3}

	idx := mustIndex(t, document.D("status", 1, "qty", -1), index.Options{})
	single := mustIndex(t, document.D("qty", 1), index.Options{})

	var docs []*document.Document
	for i := 0; i < 300; i++ {
		doc := document.D("_id", i)
		if s := statuses[rng.Intn(len(statuses))]; s != 3 {
			doc.Set("status", s)
		}
		switch rng.Intn(4) {
		case 0:
			doc.Set("qty", document.A(rng.Intn(50), rng.Intn(50)))
		case 1:
			doc.Set("qty", "many")
		default:
			doc.Set("qty", rng.Intn(50))
		}
		docs = append(docs, doc)
		if err := idx.Insert(uint64(i), doc); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if err := single.Insert(uint64(i), doc); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	planner := NewQueryPlanner([]index.Indexer{idx, single})
	filters := []*document.Document{
		document.D("status", "A"),
		document.D("status", nil),
		document.D("status", "B", "qty", document.D("$gte", 10, "$lt", 20)),
		document.D("status", "C", "qty", document.D("$lte", 5)),
		document.D("qty", document.D("$gt", 45)),
		document.D("qty", document.D("$lt", "n")),
		document.D("qty", 7),
		document.D("status", "A", "qty", 12),
	}

	for _, filter := range filters {
		f := mustCompile(t, filter)

		var want []int
		for i, doc := range docs {
			if f.Matches(doc) {
				want = append(want, i)
			}
		}

		plan, err := planner.Plan(f)
		if err != nil {
			t.Fatalf("Plan(%v) failed: %v", filter, err)
		}
		if !plan.UseIndex() {
			t.Fatalf("Plan(%v): expected an index plan", filter)
		}
		res, err := plan.Index.Scan(plan.Bounds)
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		SortIDs(res.IDs)

		var got []int
		for _, rid := range res.IDs {
			if f.Matches(docs[rid]) {
				got = append(got, int(rid))
			}
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Filter %v via %s: mismatch (-scan +index):\n%s", filter, plan.IndexName, diff)
		}
	}
}
