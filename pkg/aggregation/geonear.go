package aggregation

import (
	"fmt"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/geo"
	"github.com/mnohosten/laura-engine/pkg/query"
)

// GeoNearStage outputs documents ordered by distance from a point, with the
// distance written to distanceField. It must be the first stage and needs
// a spatial index on the source.
type GeoNearStage struct {
	query         GeoNearQuery
	geoJSON       bool
	distanceField string
	includeLocs   string
	multiplier    float64
}

func newGeoNearStage(spec document.Value) (*GeoNearStage, error) {
	doc, ok := spec.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: $geoNear requires a document", document.ErrValidation)
	}

	s := &GeoNearStage{multiplier: 1}
	s.query.MaxDistance = -1
	hasNear := false
	for _, key := range doc.Keys() {
		v, _ := doc.Get(key)
		switch key {
		case "near":
			p, err := geo.ParsePoint(v)
			if err != nil {
				return nil, fmt.Errorf("$geoNear near: %w", err)
			}
			s.query.Near = p
			s.geoJSON = geo.IsGeoJSON(v)
			hasNear = true
		case "distanceField", "includeLocs", "key":
			str, ok := v.AsString()
			if !ok || str == "" || strings.HasPrefix(str, "$") {
				return nil, fmt.Errorf("%w: $geoNear %s must be a field path", document.ErrValidation, key)
			}
			if err := document.ValidatePath(str); err != nil {
				return nil, err
			}
			switch key {
			case "distanceField":
				s.distanceField = str
			case "includeLocs":
				s.includeLocs = str
			default:
				s.query.Key = str
			}
		case "spherical":
			b, ok := v.AsBool()
			if !ok {
				return nil, fmt.Errorf("%w: $geoNear spherical must be a boolean", document.ErrValidation)
			}
			s.query.Spherical = b
		case "minDistance", "maxDistance", "distanceMultiplier":
			n, ok := v.AsNumber()
			if !ok || n < 0 {
				return nil, fmt.Errorf("%w: $geoNear %s must be a non-negative number", document.ErrValidation, key)
			}
			switch key {
			case "minDistance":
				s.query.MinDistance = n
			case "maxDistance":
				s.query.MaxDistance = n
			default:
				s.multiplier = n
			}
		case "query":
			q, ok := v.AsDocument()
			if !ok {
				return nil, fmt.Errorf("%w: $geoNear query must be a document", document.ErrValidation)
			}
			f, err := query.CompileMatch(q)
			if err != nil {
				return nil, fmt.Errorf("$geoNear query: %w", err)
			}
			s.query.Filter = f
		default:
			return nil, fmt.Errorf("%w: unknown $geoNear option %q", document.ErrValidation, key)
		}
	}

	if !hasNear {
		return nil, fmt.Errorf("%w: $geoNear requires near", document.ErrValidation)
	}
	if s.distanceField == "" {
		return nil, fmt.Errorf("%w: $geoNear requires distanceField", document.ErrValidation)
	}
	if s.geoJSON {
		s.query.Spherical = true
	}
	if s.query.Spherical && !s.query.Near.Valid() {
		return nil, fmt.Errorf("%w: $geoNear point [%v, %v] is out of range", document.ErrValidation, s.query.Near.Lon, s.query.Near.Lat)
	}
	if s.query.MaxDistance >= 0 && s.query.MaxDistance < s.query.MinDistance {
		return nil, fmt.Errorf("%w: $geoNear maxDistance is below minDistance", document.ErrValidation)
	}
	return s, nil
}

// Execute ignores docs: the stage reads its input from the source.
func (s *GeoNearStage) Execute(rc *RunContext, _ []*document.Document) ([]*document.Document, error) {
	matches, err := rc.Source.GeoNear(s.query)
	if err != nil {
		return nil, err
	}

	out := make([]*document.Document, 0, len(matches))
	for _, m := range matches {
		next := m.Doc.Clone()
		if err := next.SetPath(s.distanceField, document.Number(m.Distance*s.multiplier)); err != nil {
			return nil, err
		}
		if s.includeLocs != "" {
			if err := next.SetPath(s.includeLocs, s.location(m.Location)); err != nil {
				return nil, err
			}
		}
		out = append(out, next)
	}
	return out, nil
}

func (s *GeoNearStage) location(p geo.Point) document.Value {
	pair := document.A(p.Lon, p.Lat)
	if !s.geoJSON {
		return pair
	}
	return document.DocValue(document.D("type", "Point", "coordinates", pair))
}

func (s *GeoNearStage) Type() string { return "$geoNear" }
