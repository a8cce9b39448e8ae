package geo

import (
	"math"
)

// EarthRadius is the mean Earth radius in meters used by spherical distances.
const EarthRadius = 6371000.0

// Metric selects how distances between points are measured.
type Metric int

const (
	// Spherical measures great-circle distance in meters; coordinates are
	// [longitude, latitude] in degrees.
	Spherical Metric = iota
	// Planar measures Euclidean distance in coordinate units.
	Planar
)

func (m Metric) String() string {
	if m == Planar {
		return "planar"
	}
	return "spherical"
}

// Distance returns the distance between two points under the metric.
func (m Metric) Distance(p1, p2 Point) float64 {
	if m == Planar {
		return Distance2D(p1, p2)
	}
	return HaversineDistance(p1, p2)
}

// boxDistance returns a lower bound of the distance from p to any point
// inside box. For Planar it is exact; for Spherical it is the exact
// great-circle distance to the lat/lon rectangle.
func (m Metric) boxDistance(p Point, box BoundingBox) float64 {
	if box.Contains(p) {
		return 0
	}
	if m == Planar {
		q := Point{
			Lon: math.Max(box.MinLon, math.Min(p.Lon, box.MaxLon)),
			Lat: math.Max(box.MinLat, math.Min(p.Lat, box.MaxLat)),
		}
		return Distance2D(p, q)
	}

	if p.Lon >= box.MinLon && p.Lon <= box.MaxLon {
		// Nearest point of a parallel edge shares the point's meridian
		dLat := math.Max(box.MinLat-p.Lat, p.Lat-box.MaxLat)
		return EarthRadius * toRadians(dLat)
	}
	return math.Min(
		meridianDistance(p, box.MinLon, box.MinLat, box.MaxLat),
		meridianDistance(p, box.MaxLon, box.MinLat, box.MaxLat),
	)
}

// meridianDistance is the great-circle distance from p to the meridian
// segment at lon spanning [latMin, latMax].
func meridianDistance(p Point, lon, latMin, latMax float64) float64 {
	phiP := toRadians(p.Lat)
	dLon := toRadians(p.Lon - lon)

	// cos(distance) along the meridian is A*cos(phi) + B*sin(phi)
	a := math.Cos(phiP) * math.Cos(dLon)
	b := math.Sin(phiP)
	cosAt := func(phi float64) float64 { return a*math.Cos(phi) + b*math.Sin(phi) }

	lo, hi := toRadians(latMin), toRadians(latMax)
	best := math.Max(cosAt(lo), cosAt(hi))
	if peak := math.Atan2(b, a); peak > lo && peak < hi {
		best = math.Max(best, cosAt(peak))
	}
	return EarthRadius * math.Acos(math.Max(-1, math.Min(1, best)))
}

// Point represents a geographic point [longitude, latitude]
// For 2d: [x, y]
// For 2dsphere: [longitude, latitude] in degrees
type Point struct {
	Lon float64 // X coordinate or Longitude
	Lat float64 // Y coordinate or Latitude
}

func NewPoint(lon, lat float64) Point {
	return Point{Lon: lon, Lat: lat}
}

// Valid reports whether the point is a legal spherical coordinate.
func (p Point) Valid() bool {
	return p.Lon >= -180 && p.Lon <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// Shape is a region used by $geoWithin.
type Shape interface {
	Bounds() BoundingBox
	Contains(p Point) bool
}

// Polygon represents a closed polygon
type Polygon struct {
	// Outer ring (first element) and holes (remaining elements)
	Rings [][]Point
}

func NewPolygon(rings [][]Point) *Polygon {
	return &Polygon{Rings: rings}
}

// Bounds is computed from the outer ring.
func (p *Polygon) Bounds() BoundingBox {
	if len(p.Rings) == 0 || len(p.Rings[0]) == 0 {
		return BoundingBox{}
	}

	first := p.Rings[0][0]
	bb := BoundingBox{MinLon: first.Lon, MinLat: first.Lat, MaxLon: first.Lon, MaxLat: first.Lat}
	for _, point := range p.Rings[0] {
		bb.MinLon = math.Min(bb.MinLon, point.Lon)
		bb.MaxLon = math.Max(bb.MaxLon, point.Lon)
		bb.MinLat = math.Min(bb.MinLat, point.Lat)
		bb.MaxLat = math.Max(bb.MaxLat, point.Lat)
	}
	return bb
}

func (p *Polygon) Contains(point Point) bool {
	return PointInPolygon(point, p)
}

// BoundingBox represents a rectangular bounding box
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

func (bb BoundingBox) Bounds() BoundingBox { return bb }

// Contains checks if a point is within the bounding box
func (bb BoundingBox) Contains(p Point) bool {
	return p.Lon >= bb.MinLon && p.Lon <= bb.MaxLon &&
		p.Lat >= bb.MinLat && p.Lat <= bb.MaxLat
}

// Intersects checks if two bounding boxes intersect
func (bb BoundingBox) Intersects(other BoundingBox) bool {
	return !(bb.MaxLon < other.MinLon || bb.MinLon > other.MaxLon ||
		bb.MaxLat < other.MinLat || bb.MinLat > other.MaxLat)
}

// Circle is every point within Radius of Center under Metric. Radius is in
// meters for Spherical and coordinate units for Planar.
type Circle struct {
	Center Point
	Radius float64
	Metric Metric
}

func (c Circle) Contains(p Point) bool {
	return c.Metric.Distance(c.Center, p) <= c.Radius
}

func (c Circle) Bounds() BoundingBox {
	if c.Metric == Planar {
		return BoundingBox{
			MinLon: c.Center.Lon - c.Radius, MaxLon: c.Center.Lon + c.Radius,
			MinLat: c.Center.Lat - c.Radius, MaxLat: c.Center.Lat + c.Radius,
		}
	}
	dLat := toDegrees(c.Radius / EarthRadius)
	bb := BoundingBox{
		MinLat: math.Max(-90, c.Center.Lat-dLat),
		MaxLat: math.Min(90, c.Center.Lat+dLat),
		MinLon: -180,
		MaxLon: 180,
	}
	// Longitude span widens towards the poles
	cosLat := math.Cos(toRadians(math.Max(math.Abs(bb.MinLat), math.Abs(bb.MaxLat))))
	if cosLat > 1e-9 {
		if dLon := dLat / cosLat; dLon < 180 {
			bb.MinLon = math.Max(-180, c.Center.Lon-dLon)
			bb.MaxLon = math.Min(180, c.Center.Lon+dLon)
		}
	}
	return bb
}

// Distance2D calculates Euclidean distance between two points (planar)
func Distance2D(p1, p2 Point) float64 {
	dx := p2.Lon - p1.Lon
	dy := p2.Lat - p1.Lat
	return math.Sqrt(dx*dx + dy*dy)
}

// HaversineDistance calculates the great-circle distance between two points
// on a sphere using the Haversine formula
// Returns distance in meters
func HaversineDistance(p1, p2 Point) float64 {
	lat1 := toRadians(p1.Lat)
	lat2 := toRadians(p2.Lat)
	deltaLat := toRadians(p2.Lat - p1.Lat)
	deltaLon := toRadians(p2.Lon - p1.Lon)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// toRadians converts degrees to radians
func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

// toDegrees converts radians to degrees
func toDegrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// PointInPolygon checks if a point is inside a polygon using ray casting algorithm
func PointInPolygon(point Point, polygon *Polygon) bool {
	if len(polygon.Rings) == 0 {
		return false
	}

	if !pointInRing(point, polygon.Rings[0]) {
		return false
	}

	// Points inside a hole are outside the polygon
	for i := 1; i < len(polygon.Rings); i++ {
		if pointInRing(point, polygon.Rings[i]) {
			return false
		}
	}

	return true
}

// pointInRing uses ray casting algorithm to determine if point is in ring
func pointInRing(point Point, ring []Point) bool {
	if len(ring) < 3 {
		return false
	}

	inside := false
	j := len(ring) - 1

	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat

		intersect := ((yi > point.Lat) != (yj > point.Lat)) &&
			(point.Lon < (xj-xi)*(point.Lat-yi)/(yj-yi)+xi)

		if intersect {
			inside = !inside
		}

		j = i
	}

	return inside
}
