package index

import (
	"fmt"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/geo"
)

// GeoIndex represents a geospatial index (2d or 2dsphere) over one field
type GeoIndex struct {
	spec Spec
	path string
	grid *geo.GridIndex
}

// NewGeoIndex creates a new geospatial index. spec must be geospatial.
func NewGeoIndex(spec Spec) *GeoIndex {
	metric := geo.Spherical
	if spec.Keys[0].Kind == Planar2D {
		metric = geo.Planar
	}
	return &GeoIndex{
		spec: spec,
		path: spec.Keys[0].Path,
		grid: geo.NewGridIndex(metric, geo.DefaultCellSize),
	}
}

// Spec returns the index description.
func (gi *GeoIndex) Spec() Spec { return gi.spec }

// Name returns the index name
func (gi *GeoIndex) Name() string { return gi.spec.Name }

// Path returns the indexed field path.
func (gi *GeoIndex) Path() string { return gi.path }

// Metric returns the distance model: meters on the sphere for 2dsphere,
// coordinate units for 2d.
func (gi *GeoIndex) Metric() geo.Metric { return gi.grid.Metric() }

// Insert indexes the points stored at the index path. Documents without the
// field are skipped; a present field that holds no valid point is rejected.
func (gi *GeoIndex) Insert(rid uint64, doc *document.Document) error {
	var points []geo.Point
	var present bool
	for _, v := range doc.Resolve(gi.path) {
		if v.IsNull() {
			continue
		}
		present = true
		points = append(points, geo.PointsOf(v)...)
	}
	if !present {
		gi.grid.Remove(rid)
		return nil
	}
	if len(points) == 0 {
		return fmt.Errorf("%w: can't extract geo keys from %q for index %s", document.ErrValidation, gi.path, gi.spec.Name)
	}
	return gi.grid.Insert(rid, points)
}

// Remove drops the record from the index.
func (gi *GeoIndex) Remove(rid uint64, _ *document.Document) {
	gi.grid.Remove(rid)
}

// Clear drops every entry.
func (gi *GeoIndex) Clear() {
	gi.grid.Clear()
}

// Near returns records within [minDistance, maxDistance] of center, nearest
// first. A negative maxDistance is unbounded.
func (gi *GeoIndex) Near(center geo.Point, minDistance, maxDistance float64, limit int) []geo.Neighbor {
	return gi.grid.Near(center, minDistance, maxDistance, limit)
}

// Within returns records with a point inside shape.
func (gi *GeoIndex) Within(shape geo.Shape) []uint64 {
	return gi.grid.Within(shape)
}

// Stats returns current index statistics.
func (gi *GeoIndex) Stats() Stats {
	n := gi.grid.Len()
	return Stats{Entries: n, UniqueKeys: n, Height: 1}
}
