package query

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mnohosten/laura-engine/pkg/document"
)

func ids(docs []*document.Document) []interface{} {
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		v, _ := d.Get("_id")
		out[i] = v.Interface()
	}
	return out
}

func TestSortMultipleFields(t *testing.T) {
	docs := []*document.Document{
		document.D("_id", 1, "age", 30, "name", "b"),
		document.D("_id", 2, "age", 25, "name", "a"),
		document.D("_id", 3, "age", 30, "name", "a"),
		document.D("_id", 4, "name", "c"),
	}

	spec, err := ParseSort(document.D("age", -1, "name", 1))
	if err != nil {
		t.Fatalf("ParseSort failed: %v", err)
	}
	spec.Sort(docs)

	want := []interface{}{3.0, 1.0, 2.0, 4.0}
	if diff := cmp.Diff(want, ids(docs)); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestSortIsStable(t *testing.T) {
	docs := []*document.Document{
		document.D("_id", 1, "k", 1),
		document.D("_id", 2, "k", 0),
		document.D("_id", 3, "k", 1),
		document.D("_id", 4, "k", 0),
	}
	spec, _ := ParseSort(document.D("k", 1))
	spec.Sort(docs)

	want := []interface{}{2.0, 4.0, 1.0, 3.0}
	if diff := cmp.Diff(want, ids(docs)); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestSortArraysAndMixedTypes(t *testing.T) {
	docs := []*document.Document{
		document.D("_id", 1, "v", document.A(5, 1)),
		document.D("_id", 2, "v", 3),
		document.D("_id", 3, "v", "text"),
		document.D("_id", 4, "v", nil),
		document.D("_id", 5),
	}

	asc, _ := ParseSort(document.D("v", 1))
	asc.Sort(docs)
	if diff := cmp.Diff([]interface{}{4.0, 5.0, 1.0, 2.0, 3.0}, ids(docs)); diff != "" {
		t.Errorf("Ascending mismatch (-want +got):\n%s", diff)
	}

	desc, _ := ParseSort(document.D("v", -1))
	desc.Sort(docs)
	if diff := cmp.Diff([]interface{}{3.0, 1.0, 2.0, 4.0, 5.0}, ids(docs)); diff != "" {
		t.Errorf("Descending mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSortErrors(t *testing.T) {
	for _, doc := range []*document.Document{
		document.D("a", 0),
		document.D("a", "asc"),
		document.D("a", 2),
		document.D("", 1),
	} {
		if _, err := ParseSort(doc); !errors.Is(err, document.ErrValidation) {
			t.Errorf("ParseSort(%v): expected ErrValidation, got %v", doc, err)
		}
	}
}

func TestSortSpecDocument(t *testing.T) {
	spec, _ := ParseSort(document.D("a", 1, "b", -1))
	if got := spec.Document().String(); got != `{"a": 1, "b": -1}` {
		t.Errorf("Document() = %s", got)
	}
}
