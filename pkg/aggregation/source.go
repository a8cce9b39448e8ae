package aggregation

import (
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/geo"
	"github.com/mnohosten/laura-engine/pkg/index"
	"github.com/mnohosten/laura-engine/pkg/query"
)

// Source supplies the documents a pipeline reads.
type Source interface {
	// Documents returns the documents matching filter in insertion order.
	// A nil filter returns everything.
	Documents(filter *query.Filter) ([]*document.Document, error)

	// GeoNear returns documents ordered by distance using a spatial index.
	// It fails with index.ErrIndexRequired when there is none.
	GeoNear(q GeoNearQuery) ([]GeoMatch, error)

	// Foreign returns the source for another collection of the same
	// database. Unknown collections are empty.
	Foreign(collection string) (Source, error)
}

// GeoNearQuery describes a distance-ordered scan.
type GeoNearQuery struct {
	Key         string // indexed field; empty means the only spatial index
	Near        geo.Point
	Spherical   bool
	MinDistance float64
	MaxDistance float64 // negative means unbounded
	Filter      *query.Filter
}

// GeoMatch is a document found by GeoNear with its distance from the query
// point.
type GeoMatch struct {
	Doc      *document.Document
	Distance float64
	Location geo.Point
}

// SliceSource is an in-memory Source over plain slices. It has no spatial
// indexes.
type SliceSource struct {
	Docs        []*document.Document
	Collections map[string][]*document.Document
}

// Documents implements Source.
func (s *SliceSource) Documents(filter *query.Filter) ([]*document.Document, error) {
	if filter == nil {
		return s.Docs, nil
	}
	var out []*document.Document
	for _, doc := range s.Docs {
		if filter.Matches(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// GeoNear implements Source.
func (s *SliceSource) GeoNear(GeoNearQuery) ([]GeoMatch, error) {
	return nil, index.ErrIndexRequired
}

// Foreign implements Source.
func (s *SliceSource) Foreign(collection string) (Source, error) {
	return &SliceSource{Docs: s.Collections[collection], Collections: s.Collections}, nil
}
