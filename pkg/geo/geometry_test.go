package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/mnohosten/laura-engine/pkg/document"
)

func TestHaversineDistance(t *testing.T) {
	// New York to London is about 5570 km
	nyc := NewPoint(-74.0060, 40.7128)
	london := NewPoint(-0.1278, 51.5074)

	d := HaversineDistance(nyc, london)
	if math.Abs(d-5570000) > 20000 {
		t.Errorf("Expected ~5570km, got %.0fm", d)
	}
	if HaversineDistance(nyc, nyc) != 0 {
		t.Error("Distance to self should be 0")
	}
}

func TestDistance2D(t *testing.T) {
	if d := Distance2D(NewPoint(0, 0), NewPoint(3, 4)); d != 5 {
		t.Errorf("Expected 5, got %v", d)
	}
}

func TestPointInPolygon(t *testing.T) {
	square := NewPolygon([][]Point{{
		{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0},
	}})

	if !PointInPolygon(NewPoint(5, 5), square) {
		t.Error("Expected (5,5) inside")
	}
	if PointInPolygon(NewPoint(15, 5), square) {
		t.Error("Expected (15,5) outside")
	}

	withHole := NewPolygon([][]Point{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	})
	if PointInPolygon(NewPoint(5, 5), withHole) {
		t.Error("Expected point in hole to be outside")
	}
	if !PointInPolygon(NewPoint(2, 2), withHole) {
		t.Error("Expected (2,2) inside")
	}
}

func TestBoxDistanceIsLowerBound(t *testing.T) {
	box := BoundingBox{MinLon: 10, MaxLon: 11, MinLat: 50, MaxLat: 51}
	probes := []Point{{0, 0}, {10.5, 60}, {-170, 50.5}, {20, 45}, {10.5, 50.5}}

	for _, p := range probes {
		bound := Spherical.boxDistance(p, box)
		// Sample the box; no sample may be closer than the bound
		for lon := box.MinLon; lon <= box.MaxLon; lon += 0.1 {
			for lat := box.MinLat; lat <= box.MaxLat; lat += 0.1 {
				if d := HaversineDistance(p, NewPoint(lon, lat)); d < bound-1e-3 {
					t.Fatalf("Bound %.3f for %v exceeds distance %.3f to (%v,%v)", bound, p, d, lon, lat)
				}
			}
		}
	}

	if d := Spherical.boxDistance(NewPoint(10.5, 50.5), box); d != 0 {
		t.Errorf("Expected 0 for point inside box, got %v", d)
	}
}

func TestCircleContains(t *testing.T) {
	c := Circle{Center: NewPoint(0, 0), Radius: 2, Metric: Planar}
	if !c.Contains(NewPoint(1, 1)) || c.Contains(NewPoint(2, 2)) {
		t.Error("Planar circle containment is wrong")
	}

	s := Circle{Center: NewPoint(0, 0), Radius: 200000, Metric: Spherical}
	if !s.Contains(NewPoint(1, 1)) {
		t.Error("Expected (1,1) within 200km of origin")
	}
	if !s.Bounds().Contains(NewPoint(1, 1)) {
		t.Error("Circle bounds must cover its contents")
	}
}

func TestParsePoint(t *testing.T) {
	tests := []struct {
		name string
		in   document.Value
		want Point
	}{
		{"geojson", document.DocValue(document.D("type", "Point", "coordinates", document.A(-46.57, -23.62))), Point{-46.57, -23.62}},
		{"legacy pair", document.A(3, 4), Point{3, 4}},
		{"legacy doc", document.DocValue(document.D("lng", 1, "lat", 2)), Point{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePoint(tt.in)
			if err != nil {
				t.Fatalf("ParsePoint failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	bad := []document.Value{
		document.String("x"),
		document.A(1),
		document.A("a", 1),
		document.DocValue(document.D("type", "LineString", "coordinates", document.A())),
	}
	for _, v := range bad {
		if _, err := ParsePoint(v); !errors.Is(err, document.ErrValidation) {
			t.Errorf("ParsePoint(%v): expected ErrValidation, got %v", v, err)
		}
	}
}

func TestParseShape(t *testing.T) {
	poly := document.D("$geometry", document.D(
		"type", "Polygon",
		"coordinates", document.A(document.A(
			document.A(0, 0), document.A(10, 0), document.A(10, 10), document.A(0, 10), document.A(0, 0),
		)),
	))
	shape, err := ParseShape(poly)
	if err != nil {
		t.Fatalf("ParseShape failed: %v", err)
	}
	if !shape.Contains(NewPoint(5, 5)) {
		t.Error("Expected polygon to contain (5,5)")
	}

	box, err := ParseShape(document.D("$box", document.A(document.A(10, 10), document.A(0, 0))))
	if err != nil {
		t.Fatalf("ParseShape($box) failed: %v", err)
	}
	if !box.Contains(NewPoint(1, 9)) {
		t.Error("Expected box to contain (1,9)")
	}

	sphere, err := ParseShape(document.D("$centerSphere", document.A(document.A(0, 0), 0.01)))
	if err != nil {
		t.Fatalf("ParseShape($centerSphere) failed: %v", err)
	}
	if !sphere.Contains(NewPoint(0.5, 0)) || sphere.Contains(NewPoint(1, 0)) {
		t.Error("$centerSphere radius is in radians")
	}

	if _, err := ParseShape(document.D("$nope", 1)); !errors.Is(err, document.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestPointsOf(t *testing.T) {
	v := document.A(document.A(1, 2), document.DocValue(document.D("type", "Point", "coordinates", document.A(3, 4))), "junk")
	if got := PointsOf(v); len(got) != 2 {
		t.Errorf("Expected 2 points, got %v", got)
	}
	if got := PointsOf(document.String("x")); got != nil {
		t.Errorf("Expected no points, got %v", got)
	}
}
