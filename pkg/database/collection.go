package database

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mnohosten/laura-engine/pkg/aggregation"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/index"
	"github.com/mnohosten/laura-engine/pkg/metrics"
	"github.com/mnohosten/laura-engine/pkg/query"
	"github.com/mnohosten/laura-engine/pkg/update"
	"go.uber.org/zap"
)

const idIndexName = "_id_"

// Collection represents a collection of documents.
//
// Writes are serialized by the collection lock and update the indexes under
// it. Stored documents are never modified in place: an update installs a new
// version, so readers can keep using the documents they were handed.
type Collection struct {
	name string
	db   *Database

	mu      sync.RWMutex
	created bool
	records *index.BTree[uint64, *record] // record id -> current version
	indexes []index.Indexer               // creation order, _id_ first
	nextRID uint64
}

type record struct {
	doc *document.Document
}

// match pairs a stored document with its record id.
type match struct {
	rid uint64
	doc *document.Document
}

// FindOptions shape the result of Find.
type FindOptions struct {
	Projection *document.Document
	Sort       *document.Document
	Skip       int
	Limit      int // 0 means no limit
	BatchSize  int
}

// UpdateOptions configure UpdateOne and UpdateMany.
type UpdateOptions struct {
	// Upsert inserts a document built from the filter's equality
	// conditions and the update when nothing matches.
	Upsert bool
}

// UpdateResult reports what an update did.
type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
	UpsertedID    document.Value // Missing unless a document was upserted
}

func newCollection(name string, db *Database) *Collection {
	c := &Collection{name: name, db: db}
	c.reset()
	return c
}

// reset drops every document and every index except _id_.
func (c *Collection) reset() {
	c.records = index.NewBTree[uint64, *record](index.DefaultOrder, cmp.Compare[uint64])
	c.indexes = []index.Indexer{newIDIndex()}
	c.nextRID = 0
}

func newIDIndex() index.Indexer {
	spec, err := index.ParseSpec(document.D("_id", 1), index.Options{Name: idIndexName, Unique: true})
	if err != nil {
		panic(err)
	}
	return index.NewIndex(spec)
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Exists reports whether the collection has been created and not dropped.
func (c *Collection) Exists() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.created
}

// markCreated must be called with the write lock held.
func (c *Collection) markCreated() {
	if !c.created {
		c.created = true
		c.db.logger.Info("collection created", zap.String("collection", c.name))
	}
	c.publishSize()
}

func (c *Collection) publishSize() {
	c.db.metrics.SetCollectionSize(c.name, c.records.Size(), len(c.indexes))
}

// InsertOne inserts a single document and returns its _id. A document
// without _id gets a new ObjectID.
func (c *Collection) InsertOne(doc *document.Document) (id document.Value, err error) {
	start := time.Now()
	defer func() { c.db.observe("insert", c.name, start, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.markCreated()
	id, err = c.insertLocked(doc)
	c.publishSize()
	return id, err
}

// InsertMany inserts documents in order and stops at the first failure. The
// ids of the documents inserted before it are returned with the error.
func (c *Collection) InsertMany(docs []*document.Document) (ids []document.Value, err error) {
	start := time.Now()
	defer func() { c.db.observe("insert", c.name, start, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.markCreated()
	defer c.publishSize()
	ids = make([]document.Value, 0, len(docs))
	for i, doc := range docs {
		id, err := c.insertLocked(doc)
		if err != nil {
			return ids, fmt.Errorf("document %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Collection) insertLocked(doc *document.Document) (document.Value, error) {
	stored, err := prepareDocument(doc)
	if err != nil {
		return document.Value{}, err
	}

	rid := c.nextRID + 1
	for i, idx := range c.indexes {
		if err := idx.Insert(rid, stored); err != nil {
			for _, done := range c.indexes[:i] {
				done.Remove(rid, stored)
			}
			return document.Value{}, fmt.Errorf("collection %s: %w", c.name, err)
		}
	}
	if err := c.records.Insert(rid, &record{doc: stored}); err != nil {
		return document.Value{}, err
	}
	c.nextRID = rid

	id, _ := stored.Get("_id")
	return id, nil
}

// prepareDocument returns the version of doc to store: a private copy with
// _id as the first field.
func prepareDocument(doc *document.Document) (*document.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document must not be nil", document.ErrValidation)
	}
	for _, key := range doc.Keys() {
		if strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("%w: field name %q must not start with '$'", document.ErrValidation, key)
		}
	}

	id, ok := doc.Get("_id")
	switch {
	case !ok:
		id = document.OID(document.NewObjectID())
	case id.Type == document.TypeArray:
		return nil, fmt.Errorf("%w: _id cannot be an array", document.ErrValidation)
	}

	out := document.NewDocument()
	out.Set("_id", id.Clone())
	for _, key := range doc.Keys() {
		if key == "_id" {
			continue
		}
		v, _ := doc.Get(key)
		out.Set(key, v.Clone())
	}
	return out, nil
}

// Find returns a cursor over the documents matching filter. A nil filter
// matches everything.
func (c *Collection) Find(filter *document.Document, opts *FindOptions) (cur *Cursor, err error) {
	start := time.Now()
	defer func() { c.db.observe("find", c.name, start, err) }()

	if opts == nil {
		opts = &FindOptions{}
	}
	if opts.Skip < 0 || opts.Limit < 0 {
		return nil, fmt.Errorf("%w: skip and limit must not be negative", document.ErrValidation)
	}
	f, err := c.db.compileFilter(filter, true)
	if err != nil {
		return nil, err
	}
	proj, err := aggregation.ParseProjection(opts.Projection)
	if err != nil {
		return nil, err
	}
	var sortSpec query.SortSpec
	if opts.Sort != nil && opts.Sort.Len() > 0 {
		if sortSpec, err = query.ParseSort(opts.Sort); err != nil {
			return nil, err
		}
	}

	docs, err := c.matching(f)
	if err != nil {
		return nil, err
	}
	if sortSpec != nil {
		sortSpec.Sort(docs)
	}
	docs = docs[min(opts.Skip, len(docs)):]
	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}
	return newCursor(docs, proj, opts.BatchSize), nil
}

// FindOne returns the first document matching filter, or
// ErrDocumentNotFound.
func (c *Collection) FindOne(filter *document.Document) (*document.Document, error) {
	cur, err := c.Find(filter, &FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	if !cur.HasNext() {
		return nil, ErrDocumentNotFound
	}
	return cur.Next()
}

// matching returns the documents satisfying f: candidates come from the
// plan's access path under the read lock, the filter runs after it.
func (c *Collection) matching(f *query.Filter) ([]*document.Document, error) {
	c.mu.RLock()
	cands, plan, err := c.candidatesLocked(f)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	docs := make([]*document.Document, len(cands))
	for i, m := range cands {
		docs[i] = m.doc
	}
	c.db.metrics.RecordScan(scanKind(plan), len(docs))
	return query.FilterDocuments(c.db.pool, docs, f, c.db.config.Parallel), nil
}

// candidatesLocked returns a superset of the documents matching f, in
// insertion order, or nearest first for $near.
func (c *Collection) candidatesLocked(f *query.Filter) ([]match, *query.QueryPlan, error) {
	plan, err := query.NewQueryPlanner(c.indexes).Plan(f)
	if err != nil {
		return nil, nil, err
	}
	if plan.UseIndex() {
		c.db.logger.Debug("query plan",
			zap.String("collection", c.name),
			zap.Stringer("stage", plan.ScanType),
			zap.String("index", plan.IndexName))
	}

	var rids []uint64
	switch plan.ScanType {
	case query.ScanTypeCollection:
		out := make([]match, 0, c.records.Size())
		c.records.Ascend(nil, func(rid uint64, r *record) bool {
			out = append(out, match{rid: rid, doc: r.doc})
			return true
		})
		return out, plan, nil
	case query.ScanTypeIndexExact, query.ScanTypeIndexRange:
		res, err := plan.Index.Scan(plan.Bounds)
		if err != nil {
			return nil, nil, err
		}
		rids = res.IDs
		query.SortIDs(rids)
	case query.ScanTypeGeoWithin:
		rids = plan.GeoIndex.Within(plan.Within)
		query.SortIDs(rids)
	case query.ScanTypeGeoNear:
		near := plan.Near
		for _, n := range plan.GeoIndex.Near(near.Point, near.MinDistance, near.MaxDistance, 0) {
			rids = append(rids, n.ID)
		}
	}

	out := make([]match, 0, len(rids))
	for _, rid := range rids {
		if r, ok := c.records.Search(rid); ok {
			out = append(out, match{rid: rid, doc: r.doc})
		}
	}
	return out, plan, nil
}

func scanKind(plan *query.QueryPlan) string {
	switch plan.ScanType {
	case query.ScanTypeCollection:
		return metrics.ScanCollection
	case query.ScanTypeGeoNear, query.ScanTypeGeoWithin:
		return metrics.ScanGeo
	default:
		return metrics.ScanIndex
	}
}

// UpdateOne updates the first document matching filter.
func (c *Collection) UpdateOne(filter, upd *document.Document, opts *UpdateOptions) (*UpdateResult, error) {
	return c.update(filter, upd, opts, false)
}

// UpdateMany updates every document matching filter. Each document is
// updated atomically; a failure stops the operation and leaves earlier
// documents updated.
func (c *Collection) UpdateMany(filter, upd *document.Document, opts *UpdateOptions) (*UpdateResult, error) {
	return c.update(filter, upd, opts, true)
}

func (c *Collection) update(filter, upd *document.Document, opts *UpdateOptions, multi bool) (res *UpdateResult, err error) {
	start := time.Now()
	defer func() { c.db.observe("update", c.name, start, err) }()

	f, err := c.db.compileFilter(filter, false)
	if err != nil {
		return nil, err
	}
	u, err := update.Compile(upd)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cands, plan, err := c.candidatesLocked(f)
	if err != nil {
		return nil, err
	}
	c.db.metrics.RecordScan(scanKind(plan), len(cands))

	res = &UpdateResult{}
	for _, m := range cands {
		if !f.Matches(m.doc) {
			continue
		}
		res.MatchedCount++
		next, changed, err := u.Apply(m.doc, false)
		if err != nil {
			return res, err
		}
		if len(changed) > 0 {
			if err := c.replaceLocked(m.rid, m.doc, next, changed); err != nil {
				return res, err
			}
			res.ModifiedCount++
		}
		if !multi {
			break
		}
	}

	if res.MatchedCount == 0 && opts != nil && opts.Upsert {
		base, err := upsertBase(f)
		if err != nil {
			return res, err
		}
		doc, _, err := u.Apply(base, true)
		if err != nil {
			return res, err
		}
		c.markCreated()
		if res.UpsertedID, err = c.insertLocked(doc); err != nil {
			return res, err
		}
		c.publishSize()
	}
	return res, nil
}

// upsertBase seeds an upserted document with the filter's top-level
// equality conditions.
func upsertBase(f *query.Filter) (*document.Document, error) {
	base := document.NewDocument()
	for _, fn := range f.Conjuncts() {
		for _, cond := range fn.Conditions {
			if cond.Op != query.OpEq || cond.Value.Type == document.TypeRegex {
				continue
			}
			if err := base.SetPath(fn.Path, cond.Value.Clone()); err != nil {
				return nil, err
			}
		}
	}
	return base, nil
}

// replaceLocked installs next as the new version of record rid, moving the
// entries of every index whose fields changed. On an index failure the old
// version stays in place.
func (c *Collection) replaceLocked(rid uint64, old, next *document.Document, changed []string) error {
	var touched []index.Indexer
	for _, idx := range c.indexes {
		spec := idx.Spec()
		for _, path := range changed {
			if spec.Touches(path) {
				touched = append(touched, idx)
				break
			}
		}
	}

	for i, idx := range touched {
		idx.Remove(rid, old)
		if err := idx.Insert(rid, next); err != nil {
			for j := i; j >= 0; j-- {
				if j < i {
					touched[j].Remove(rid, next)
				}
				_ = touched[j].Insert(rid, old)
			}
			return fmt.Errorf("collection %s: %w", c.name, err)
		}
	}

	r, ok := c.records.Search(rid)
	if !ok {
		return fmt.Errorf("%w: record %d", ErrDocumentNotFound, rid)
	}
	r.doc = next
	return nil
}

// DeleteOne deletes the first document matching filter and returns the
// number deleted.
func (c *Collection) DeleteOne(filter *document.Document) (int, error) {
	return c.delete(filter, false)
}

// DeleteMany deletes every document matching filter.
func (c *Collection) DeleteMany(filter *document.Document) (int, error) {
	return c.delete(filter, true)
}

func (c *Collection) delete(filter *document.Document, multi bool) (n int, err error) {
	start := time.Now()
	defer func() { c.db.observe("delete", c.name, start, err) }()

	f, err := c.db.compileFilter(filter, false)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cands, plan, err := c.candidatesLocked(f)
	if err != nil {
		return 0, err
	}
	c.db.metrics.RecordScan(scanKind(plan), len(cands))

	for _, m := range cands {
		if !f.Matches(m.doc) {
			continue
		}
		for _, idx := range c.indexes {
			idx.Remove(m.rid, m.doc)
		}
		if err := c.records.Delete(m.rid); err != nil {
			return n, err
		}
		n++
		if !multi {
			break
		}
	}
	if n > 0 {
		c.publishSize()
	}
	return n, nil
}

// Count returns the number of documents matching filter.
func (c *Collection) Count(filter *document.Document) (n int, err error) {
	start := time.Now()
	defer func() { c.db.observe("count", c.name, start, err) }()

	f, err := c.db.compileFilter(filter, false)
	if err != nil {
		return 0, err
	}
	docs, err := c.matching(f)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Distinct returns the distinct values of field among the documents
// matching filter, sorted. Array values contribute their elements.
func (c *Collection) Distinct(field string, filter *document.Document) (values []document.Value, err error) {
	start := time.Now()
	defer func() { c.db.observe("distinct", c.name, start, err) }()

	if err := document.ValidatePath(field); err != nil {
		return nil, err
	}
	f, err := c.db.compileFilter(filter, false)
	if err != nil {
		return nil, err
	}
	docs, err := c.matching(f)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	add := func(v document.Value) {
		k := document.KeyString(v)
		if !seen[k] {
			seen[k] = true
			values = append(values, v)
		}
	}
	for _, doc := range docs {
		for _, v := range doc.Resolve(field) {
			if arr, ok := v.AsArray(); ok {
				for _, elem := range arr {
					add(elem)
				}
				continue
			}
			add(v)
		}
	}
	slices.SortFunc(values, document.Compare)
	return values, nil
}

// Scan returns a cursor over every document in insertion order.
func (c *Collection) Scan() *Cursor {
	c.mu.RLock()
	docs := make([]*document.Document, 0, c.records.Size())
	c.records.Ascend(nil, func(_ uint64, r *record) bool {
		docs = append(docs, r.doc)
		return true
	})
	c.mu.RUnlock()
	return newCursor(docs, nil, 0)
}

// Len returns the number of stored documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records.Size()
}

// Drop removes every document and index. The handle stays usable: the next
// write creates the collection again, empty.
func (c *Collection) Drop() {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	wasCreated := c.created
	c.reset()
	c.created = false
	c.db.metrics.ForgetCollection(c.name)
	if wasCreated {
		c.db.logger.Info("collection dropped", zap.String("collection", c.name))
	}
	c.db.observe("drop", c.name, start, nil)
}
