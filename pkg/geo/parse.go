package geo

import (
	"fmt"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// ParsePoint reads a point from a GeoJSON Point document
// ({type: "Point", coordinates: [lon, lat]}) or a legacy coordinate pair,
// given either as [x, y] or as an embedded document with two numeric fields.
func ParsePoint(v document.Value) (Point, error) {
	switch v.Type {
	case document.TypeArray:
		arr, _ := v.AsArray()
		return pointFromPair(arr)
	case document.TypeDocument:
		doc, _ := v.AsDocument()
		if t, ok := doc.Get("type"); ok {
			if s, _ := t.AsString(); s != "Point" {
				return Point{}, fmt.Errorf("%w: expected GeoJSON Point, got %v", document.ErrValidation, t)
			}
			coords, ok := doc.Get("coordinates")
			if !ok {
				return Point{}, fmt.Errorf("%w: missing coordinates field", document.ErrValidation)
			}
			arr, ok := coords.AsArray()
			if !ok {
				return Point{}, fmt.Errorf("%w: coordinates must be an array", document.ErrValidation)
			}
			return pointFromPair(arr)
		}
		keys := doc.Keys()
		if len(keys) != 2 {
			return Point{}, fmt.Errorf("%w: legacy point must have 2 fields", document.ErrValidation)
		}
		x, _ := doc.Get(keys[0])
		y, _ := doc.Get(keys[1])
		return pointFromPair([]document.Value{x, y})
	default:
		return Point{}, fmt.Errorf("%w: %s is not a point", document.ErrValidation, v.Type)
	}
}

func pointFromPair(arr []document.Value) (Point, error) {
	if len(arr) != 2 {
		return Point{}, fmt.Errorf("%w: point coordinates must have 2 elements", document.ErrValidation)
	}
	lon, ok := arr[0].AsNumber()
	if !ok {
		return Point{}, fmt.Errorf("%w: invalid longitude %v", document.ErrValidation, arr[0])
	}
	lat, ok := arr[1].AsNumber()
	if !ok {
		return Point{}, fmt.Errorf("%w: invalid latitude %v", document.ErrValidation, arr[1])
	}
	return Point{Lon: lon, Lat: lat}, nil
}

// IsGeoJSON reports whether v is a GeoJSON object (a document with a type
// field), as opposed to a legacy coordinate pair.
func IsGeoJSON(v document.Value) bool {
	doc, ok := v.AsDocument()
	return ok && doc.Has("type")
}

// ParsePolygon reads a GeoJSON Polygon document.
func ParsePolygon(v document.Value) (*Polygon, error) {
	doc, ok := v.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: polygon must be a document", document.ErrValidation)
	}
	if t, _ := doc.Get("type"); !document.Equal(t, document.String("Polygon")) {
		return nil, fmt.Errorf("%w: expected GeoJSON Polygon, got %v", document.ErrValidation, t)
	}
	coords, _ := doc.Get("coordinates")
	rings, ok := coords.AsArray()
	if !ok || len(rings) == 0 {
		return nil, fmt.Errorf("%w: polygon coordinates must be a non-empty array", document.ErrValidation)
	}

	polygonRings := make([][]Point, len(rings))
	for i, ringVal := range rings {
		points, err := parsePointList(ringVal)
		if err != nil {
			return nil, err
		}
		if len(points) < 4 {
			return nil, fmt.Errorf("%w: polygon ring must have at least 4 points", document.ErrValidation)
		}
		polygonRings[i] = points
	}
	return NewPolygon(polygonRings), nil
}

func parsePointList(v document.Value) ([]Point, error) {
	arr, ok := v.AsArray()
	if !ok {
		return nil, fmt.Errorf("%w: expected an array of points", document.ErrValidation)
	}
	points := make([]Point, len(arr))
	for i, pv := range arr {
		p, err := ParsePoint(pv)
		if err != nil {
			return nil, err
		}
		points[i] = p
	}
	return points, nil
}

// ParseShape reads a $geoWithin argument: {$geometry: Polygon},
// {$box: [[x1, y1], [x2, y2]]}, {$polygon: [[x, y], ...]},
// {$center: [[x, y], r]} or {$centerSphere: [[lon, lat], radians]}.
func ParseShape(spec *document.Document) (Shape, error) {
	keys := spec.Keys()
	if len(keys) != 1 {
		return nil, fmt.Errorf("%w: $geoWithin takes exactly one shape", document.ErrValidation)
	}
	arg, _ := spec.Get(keys[0])

	switch keys[0] {
	case "$geometry":
		return ParsePolygon(arg)
	case "$box":
		corners, err := parsePointList(arg)
		if err != nil {
			return nil, err
		}
		if len(corners) != 2 {
			return nil, fmt.Errorf("%w: $box needs two corners", document.ErrValidation)
		}
		return BoundingBox{
			MinLon: min(corners[0].Lon, corners[1].Lon),
			MaxLon: max(corners[0].Lon, corners[1].Lon),
			MinLat: min(corners[0].Lat, corners[1].Lat),
			MaxLat: max(corners[0].Lat, corners[1].Lat),
		}, nil
	case "$polygon":
		ring, err := parsePointList(arg)
		if err != nil {
			return nil, err
		}
		if len(ring) < 3 {
			return nil, fmt.Errorf("%w: $polygon needs at least 3 points", document.ErrValidation)
		}
		return NewPolygon([][]Point{ring}), nil
	case "$center", "$centerSphere":
		arr, ok := arg.AsArray()
		if !ok || len(arr) != 2 {
			return nil, fmt.Errorf("%w: %s takes [center, radius]", document.ErrValidation, keys[0])
		}
		center, err := ParsePoint(arr[0])
		if err != nil {
			return nil, err
		}
		radius, ok := arr[1].AsNumber()
		if !ok || radius < 0 {
			return nil, fmt.Errorf("%w: %s radius must be a non-negative number", document.ErrValidation, keys[0])
		}
		if keys[0] == "$center" {
			return Circle{Center: center, Radius: radius, Metric: Planar}, nil
		}
		return Circle{Center: center, Radius: radius * EarthRadius, Metric: Spherical}, nil
	default:
		return nil, fmt.Errorf("%w: unknown $geoWithin shape %s", document.ErrValidation, keys[0])
	}
}

// PointsOf extracts the indexable points stored in a field value: a single
// point, or an array of points. Values that hold no point yield nil.
func PointsOf(v document.Value) []Point {
	if p, err := ParsePoint(v); err == nil {
		return []Point{p}
	}
	arr, ok := v.AsArray()
	if !ok {
		return nil
	}
	var points []Point
	for _, item := range arr {
		if p, err := ParsePoint(item); err == nil {
			points = append(points, p)
		}
	}
	return points
}
