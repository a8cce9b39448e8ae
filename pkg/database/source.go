package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mnohosten/laura-engine/pkg/aggregation"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/geo"
	"github.com/mnohosten/laura-engine/pkg/index"
	"github.com/mnohosten/laura-engine/pkg/metrics"
	"github.com/mnohosten/laura-engine/pkg/query"
)

// Collection is the source of the pipelines it runs.
var _ aggregation.Source = (*Collection)(nil)

// Aggregate runs a pipeline over the collection. Stage failures are
// reported as *aggregation.StageError.
func (c *Collection) Aggregate(ctx context.Context, stages []*document.Document) (cur *Cursor, err error) {
	start := time.Now()
	defer func() { c.db.observe("aggregate", c.name, start, err) }()

	p, err := aggregation.NewPipeline(stages, c.db.pipelineOptions())
	if err != nil {
		return nil, err
	}
	docs, err := p.Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	return newCursor(docs, nil, 0), nil
}

// Documents implements aggregation.Source.
func (c *Collection) Documents(filter *query.Filter) ([]*document.Document, error) {
	if filter == nil {
		filter = query.MatchAll()
	}
	return c.matching(filter)
}

// GeoNear implements aggregation.Source. Distances follow the metric of the
// index used: meters for 2dsphere, coordinate units for 2d.
func (c *Collection) GeoNear(q aggregation.GeoNearQuery) ([]aggregation.GeoMatch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	gi, err := c.geoIndexLocked(q.Key, q.Spherical)
	if err != nil {
		return nil, err
	}

	neighbors := gi.Near(q.Near, q.MinDistance, q.MaxDistance, 0)
	c.db.metrics.RecordScan(metrics.ScanGeo, len(neighbors))

	out := make([]aggregation.GeoMatch, 0, len(neighbors))
	for _, n := range neighbors {
		r, ok := c.records.Search(n.ID)
		if !ok {
			continue
		}
		if q.Filter != nil && !q.Filter.Matches(r.doc) {
			continue
		}
		out = append(out, aggregation.GeoMatch{Doc: r.doc, Distance: n.Distance, Location: n.Point})
	}
	return out, nil
}

// geoIndexLocked picks the spatial index for a $geoNear. Without a key the
// collection must have exactly one; with several on the key the one whose
// metric matches spherical wins.
func (c *Collection) geoIndexLocked(key string, spherical bool) (*index.GeoIndex, error) {
	var found []*index.GeoIndex
	for _, idx := range c.indexes {
		gi, ok := idx.(*index.GeoIndex)
		if !ok || (key != "" && gi.Path() != key) {
			continue
		}
		found = append(found, gi)
	}

	switch {
	case len(found) == 0 && key == "":
		return nil, fmt.Errorf("%w: $geoNear needs a 2dsphere or 2d index on %s", index.ErrIndexRequired, c.name)
	case len(found) == 0:
		return nil, fmt.Errorf("%w: $geoNear needs a 2dsphere or 2d index on %q", index.ErrIndexRequired, key)
	case len(found) == 1:
		return found[0], nil
	}

	if key == "" {
		paths := make(map[string]bool)
		for _, gi := range found {
			paths[gi.Path()] = true
		}
		if len(paths) > 1 {
			return nil, fmt.Errorf("%w: more than one spatial index on %s, $geoNear needs a key", document.ErrValidation, c.name)
		}
	}
	want := geo.Planar
	if spherical {
		want = geo.Spherical
	}
	for _, gi := range found {
		if gi.Metric() == want {
			return gi, nil
		}
	}
	return found[0], nil
}

// Foreign implements aggregation.Source. Collections that do not exist
// read as empty.
func (c *Collection) Foreign(collection string) (aggregation.Source, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	return c.db.Collection(collection), nil
}
