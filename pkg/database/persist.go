package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/index"
	"go.uber.org/zap"
)

// Persister is a durable backend for database state.
type Persister interface {
	// Load returns the last persisted state. A backend with nothing stored
	// returns an empty snapshot.
	Load(ctx context.Context) (*Snapshot, error)
	Persist(ctx context.Context, snap *Snapshot) error
}

// Snapshot is the full state of a database at one point in time.
type Snapshot struct {
	Collections []CollectionSnapshot
}

// CollectionSnapshot holds one collection: its secondary indexes (the _id_
// index is implied) and its documents in insertion order.
type CollectionSnapshot struct {
	Name      string
	Indexes   []index.Spec
	Documents []*document.Document
}

// Snapshot captures every existing collection. Each collection is copied
// under its read lock; the documents are shared, immutable versions.
func (db *Database) Snapshot() *Snapshot {
	snap := &Snapshot{}
	for _, name := range db.ListCollections() {
		c := db.Collection(name)
		c.mu.RLock()
		cs := CollectionSnapshot{Name: name}
		for _, idx := range c.indexes {
			if spec := idx.Spec(); spec.Name != idIndexName {
				cs.Indexes = append(cs.Indexes, spec)
			}
		}
		cs.Documents = make([]*document.Document, 0, c.records.Size())
		c.records.Ascend(nil, func(_ uint64, r *record) bool {
			cs.Documents = append(cs.Documents, r.doc)
			return true
		})
		c.mu.RUnlock()
		snap.Collections = append(snap.Collections, cs)
	}
	return snap
}

// Load replaces the database contents with snap. Every collection is built
// before any is installed, so a snapshot that fails to load (a duplicate
// key, an invalid index) leaves the database unchanged.
func (db *Database) Load(snap *Snapshot) error {
	if snap == nil {
		snap = &Snapshot{}
	}
	type built struct {
		coll *Collection
		next *Collection
	}
	var installs []built
	keep := make(map[string]bool)

	for _, cs := range snap.Collections {
		if err := ValidateCollectionName(cs.Name); err != nil {
			return err
		}
		if keep[cs.Name] {
			return fmt.Errorf("%w: collection %s appears twice in snapshot", document.ErrValidation, cs.Name)
		}
		keep[cs.Name] = true

		next := newCollection(cs.Name, db)
		for _, spec := range cs.Indexes {
			idx, err := next.buildIndexLocked(spec)
			if err != nil {
				return err
			}
			next.indexes = append(next.indexes, idx)
		}
		for i, doc := range cs.Documents {
			if _, err := next.insertLocked(doc); err != nil {
				return fmt.Errorf("collection %s document %d: %w", cs.Name, i, err)
			}
		}
		installs = append(installs, built{coll: db.Collection(cs.Name), next: next})
	}

	for _, name := range db.ListCollections() {
		if !keep[name] {
			db.Collection(name).Drop()
		}
	}
	for _, b := range installs {
		b.coll.mu.Lock()
		b.coll.records = b.next.records
		b.coll.indexes = b.next.indexes
		b.coll.nextRID = b.next.nextRID
		b.coll.markCreated()
		b.coll.mu.Unlock()
	}
	return nil
}

// Save persists a snapshot through the configured Persister.
func (db *Database) Save(ctx context.Context) error {
	p := db.config.Persister
	if p == nil {
		return ErrNoPersister
	}
	start := time.Now()
	snap := db.Snapshot()
	if err := p.Persist(ctx, snap); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	db.logger.Info("database saved",
		zap.Int("collections", len(snap.Collections)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Restore loads the state last saved through the configured Persister.
func (db *Database) Restore(ctx context.Context) error {
	p := db.config.Persister
	if p == nil {
		return ErrNoPersister
	}
	start := time.Now()
	snap, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	if snap == nil {
		snap = &Snapshot{}
	}
	if err := db.Load(snap); err != nil {
		return err
	}
	db.logger.Info("database restored",
		zap.Int("collections", len(snap.Collections)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
