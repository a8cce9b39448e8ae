package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/panjf2000/ants/v2"
)

func TestFilterDocumentsParallel(t *testing.T) {
	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Release()

	docs := make([]*document.Document, 5000)
	var want []interface{}
	for i := range docs {
		docs[i] = document.D("_id", i, "n", i%7)
		if i%7 == 3 {
			want = append(want, float64(i))
		}
	}

	f := mustCompile(t, document.D("n", 3))
	config := &ParallelConfig{MinDocsForParallel: 100, ChunkSize: 250}

	got := FilterDocuments(pool, docs, f, config)
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("Parallel result mismatch (-want +got):\n%s", diff)
	}

	sequential := FilterDocuments(nil, docs, f, nil)
	if diff := cmp.Diff(want, ids(sequential)); diff != "" {
		t.Errorf("Sequential result mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterDocumentsReleasedPool(t *testing.T) {
	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	pool.Release()

	docs := make([]*document.Document, 2000)
	for i := range docs {
		docs[i] = document.D("_id", i)
	}
	got := FilterDocuments(pool, docs, mustCompile(t, document.D("_id", document.D("$lt", 10))), &ParallelConfig{MinDocsForParallel: 1})
	if len(got) != 10 {
		t.Errorf("Expected 10 documents, got %d", len(got))
	}
}

func TestFilterDocumentsEmptyFilter(t *testing.T) {
	docs := []*document.Document{document.D("a", 1), document.D("a", 2)}
	got := FilterDocuments(nil, docs, MatchAll(), nil)
	if len(got) != 2 {
		t.Errorf("Expected all documents, got %d", len(got))
	}
}
