package database

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mnohosten/laura-engine/pkg/document"
)

func numbered(n int) []*document.Document {
	docs := make([]*document.Document, n)
	for i := range docs {
		docs[i] = document.D("_id", i, "secret", "x")
	}
	return docs
}

func TestCursorBatches(t *testing.T) {
	db := newTestDB(t)
	c := db.Collection("items")
	insertAll(t, c, numbered(7)...)

	cur, err := c.Find(nil, &FindOptions{BatchSize: 3, Projection: document.D("secret", 0)})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if cur.Count() != 7 {
		t.Errorf("Count = %d, want 7", cur.Count())
	}

	var sizes []int
	for cur.HasNext() {
		batch, err := cur.NextBatch()
		if err != nil {
			t.Fatalf("NextBatch failed: %v", err)
		}
		for _, doc := range batch {
			if doc.Has("secret") {
				t.Errorf("projection not applied to %v", doc)
			}
		}
		sizes = append(sizes, len(batch))
	}
	if diff := cmp.Diff([]int{3, 3, 1}, sizes); diff != "" {
		t.Errorf("batch sizes (-want +got):\n%s", diff)
	}
	if cur.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", cur.Remaining())
	}
	if _, err := cur.Next(); !errors.Is(err, ErrCursorExhausted) {
		t.Errorf("Expected ErrCursorExhausted, got %v", err)
	}
	if batch, err := cur.NextBatch(); err != nil || len(batch) != 0 {
		t.Errorf("exhausted NextBatch = %v, %v", batch, err)
	}
}

func TestCursorClose(t *testing.T) {
	cur := newCursor(numbered(4), nil, 0)
	if _, err := cur.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if cur.Remaining() != 3 {
		t.Errorf("Remaining = %d, want 3", cur.Remaining())
	}
	cur.Close()
	if cur.HasNext() || cur.Remaining() != 0 {
		t.Errorf("closed cursor still reports documents")
	}
	if _, err := cur.Next(); !errors.Is(err, ErrCursorExhausted) {
		t.Errorf("Expected ErrCursorExhausted after Close, got %v", err)
	}
}

func TestCursorManager(t *testing.T) {
	cm := NewCursorManager(0)

	first := newCursor(numbered(2), nil, 1)
	id, err := cm.Register(first)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id == "" || first.ID() != id {
		t.Fatalf("Register assigned %q, cursor reports %q", id, first.ID())
	}
	second := newCursor(numbered(1), nil, 0)
	id2, err := cm.Register(second)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id2 == id {
		t.Fatalf("cursor ids collide: %s", id)
	}

	got, err := cm.Get(id)
	if err != nil || got != first {
		t.Fatalf("Get(%s) = %p, %v", id, got, err)
	}
	if _, err := cm.Get("nope"); !errors.Is(err, ErrCursorNotFound) {
		t.Errorf("Expected ErrCursorNotFound, got %v", err)
	}

	if _, err := second.All(); err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if n := cm.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d cursors, want 1", n)
	}
	if cm.Active() != 1 {
		t.Errorf("Active = %d, want 1", cm.Active())
	}

	cm.Close(id)
	cm.Close(id)
	if cm.Active() != 0 {
		t.Errorf("Active after Close = %d, want 0", cm.Active())
	}
	if first.HasNext() {
		t.Errorf("closing through the manager must close the cursor")
	}
}

func TestCursorManagerTimeout(t *testing.T) {
	cm := NewCursorManager(time.Millisecond)
	cur := newCursor(numbered(3), nil, 0)
	id, err := cm.Register(cur)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := cm.Get(id); !errors.Is(err, ErrCursorNotFound) {
		t.Errorf("Expected timed out cursor to be gone, got %v", err)
	}
	if cm.Active() != 0 {
		t.Errorf("Active = %d, want 0", cm.Active())
	}
}
