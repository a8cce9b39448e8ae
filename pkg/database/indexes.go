package database

import (
	"fmt"
	"slices"
	"time"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/index"
	"go.uber.org/zap"
)

// CreateIndex builds an index over the existing documents and maintains it
// on every later write. Creating an index that already exists with the same
// keys and options is a no-op; the index name is returned either way.
func (c *Collection) CreateIndex(keys *document.Document, opts *index.Options) (name string, err error) {
	start := time.Now()
	defer func() { c.db.observe("createIndex", c.name, start, err) }()

	if opts == nil {
		opts = &index.Options{}
	}
	spec, err := index.ParseSpec(keys, *opts)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.indexes {
		es := existing.Spec()
		if es.Name != spec.Name {
			continue
		}
		if es.Unique == spec.Unique && slices.Equal(es.Keys, spec.Keys) {
			return spec.Name, nil
		}
		return "", fmt.Errorf("%w: index %s already exists with different keys or options", document.ErrValidation, spec.Name)
	}

	idx, err := c.buildIndexLocked(spec)
	if err != nil {
		return "", err
	}
	c.indexes = append(c.indexes, idx)
	c.markCreated()

	c.db.logger.Info("index created",
		zap.String("collection", c.name),
		zap.String("index", spec.Name),
		zap.Int("documents", c.records.Size()),
		zap.Duration("elapsed", time.Since(start)))
	return spec.Name, nil
}

// buildIndexLocked creates the index for spec loaded with every stored
// document.
func (c *Collection) buildIndexLocked(spec index.Spec) (index.Indexer, error) {
	idx := index.New(spec)
	var buildErr error
	c.records.Ascend(nil, func(rid uint64, r *record) bool {
		if err := idx.Insert(rid, r.doc); err != nil {
			buildErr = fmt.Errorf("collection %s: building index %s: %w", c.name, spec.Name, err)
			return false
		}
		return true
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return idx, nil
}

// DropIndex removes the named index. The _id_ index cannot be dropped.
func (c *Collection) DropIndex(name string) (err error) {
	start := time.Now()
	defer func() { c.db.observe("dropIndex", c.name, start, err) }()

	if name == idIndexName {
		return fmt.Errorf("%w: cannot drop the _id_ index", document.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, idx := range c.indexes {
		if idx.Spec().Name == name {
			c.indexes = slices.Delete(c.indexes, i, i+1)
			c.publishSize()
			c.db.logger.Info("index dropped", zap.String("collection", c.name), zap.String("index", name))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
}

// ListIndexes returns the specs of all indexes in creation order.
func (c *Collection) ListIndexes() []index.Spec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	specs := make([]index.Spec, len(c.indexes))
	for i, idx := range c.indexes {
		specs[i] = idx.Spec()
	}
	return specs
}

// Explain reports the access path find would use for filter and how many
// candidates it yields.
func (c *Collection) Explain(filter *document.Document) (*document.Document, error) {
	f, err := c.db.compileFilter(filter, true)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	cands, plan, err := c.candidatesLocked(f)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var returned int
	for _, m := range cands {
		if f.Matches(m.doc) {
			returned++
		}
	}
	return document.D(
		"namespace", c.db.name+"."+c.name,
		"winningPlan", plan.Document(),
		"docsExamined", len(cands),
		"nReturned", returned,
	), nil
}
