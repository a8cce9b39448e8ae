package geo

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// DefaultCellSize is the grid cell edge in degrees (or coordinate units for
// planar grids).
const DefaultCellSize = 1.0

type cellKey struct {
	x, y int64
}

// GridIndex is a grid-bucketed spatial index over record ids. Each record may
// carry several points; its distance to a query point is the distance of its
// nearest one.
//
// GridIndex does no locking of its own; the owning collection serializes
// writers against readers.
type GridIndex struct {
	metric   Metric
	cellSize float64

	cells  map[cellKey]map[uint64][]Point
	points map[uint64][]Point
}

// Neighbor is a record found by Near together with its distance.
type Neighbor struct {
	ID       uint64
	Point    Point
	Distance float64
}

// NewGridIndex creates an empty grid. A non-positive cellSize selects
// DefaultCellSize.
func NewGridIndex(metric Metric, cellSize float64) *GridIndex {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &GridIndex{
		metric:   metric,
		cellSize: cellSize,
		cells:    make(map[cellKey]map[uint64][]Point),
		points:   make(map[uint64][]Point),
	}
}

// Metric returns the distance model of the grid.
func (g *GridIndex) Metric() Metric { return g.metric }

// Len returns the number of indexed records.
func (g *GridIndex) Len() int { return len(g.points) }

// Insert replaces the points indexed for id. Spherical grids reject
// coordinates outside [-180, 180] x [-90, 90].
func (g *GridIndex) Insert(id uint64, points []Point) error {
	if g.metric == Spherical {
		for _, p := range points {
			if !p.Valid() {
				return fmt.Errorf("%w: longitude/latitude out of bounds: [%v, %v]", document.ErrValidation, p.Lon, p.Lat)
			}
		}
	}

	g.Remove(id)
	if len(points) == 0 {
		return nil
	}

	g.points[id] = points
	for _, p := range points {
		key := g.cellOf(p)
		cell := g.cells[key]
		if cell == nil {
			cell = make(map[uint64][]Point)
			g.cells[key] = cell
		}
		cell[id] = append(cell[id], p)
	}
	return nil
}

// Remove drops every point indexed for id.
func (g *GridIndex) Remove(id uint64) {
	points, ok := g.points[id]
	if !ok {
		return
	}
	for _, p := range points {
		key := g.cellOf(p)
		if cell, ok := g.cells[key]; ok {
			delete(cell, id)
			if len(cell) == 0 {
				delete(g.cells, key)
			}
		}
	}
	delete(g.points, id)
}

// Clear empties the index.
func (g *GridIndex) Clear() {
	g.cells = make(map[cellKey]map[uint64][]Point)
	g.points = make(map[uint64][]Point)
}

func (g *GridIndex) cellOf(p Point) cellKey {
	return cellKey{
		x: int64(math.Floor(p.Lon / g.cellSize)),
		y: int64(math.Floor(p.Lat / g.cellSize)),
	}
}

func (g *GridIndex) cellBox(k cellKey) BoundingBox {
	return BoundingBox{
		MinLon: float64(k.x) * g.cellSize,
		MaxLon: float64(k.x+1) * g.cellSize,
		MinLat: float64(k.y) * g.cellSize,
		MaxLat: float64(k.y+1) * g.cellSize,
	}
}

// Near returns the records whose nearest point lies within
// [minDistance, maxDistance] of center, ordered nearest first with ties
// broken by id. A negative maxDistance means unbounded; limit <= 0 means no
// limit.
//
// Cells are visited in order of their distance lower bound, so the scan stops
// as soon as no unvisited cell can hold a closer record.
func (g *GridIndex) Near(center Point, minDistance, maxDistance float64, limit int) []Neighbor {
	if maxDistance < 0 {
		maxDistance = math.Inf(1)
	}

	type cellBound struct {
		key   cellKey
		bound float64
	}
	order := make([]cellBound, 0, len(g.cells))
	for key := range g.cells {
		b := g.metric.boxDistance(center, g.cellBox(key))
		if b <= maxDistance {
			order = append(order, cellBound{key, b})
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].bound != order[j].bound {
			return order[i].bound < order[j].bound
		}
		if order[i].key.x != order[j].key.x {
			return order[i].key.x < order[j].key.x
		}
		return order[i].key.y < order[j].key.y
	})

	nearest := make(map[uint64]Neighbor)
	var best *boundedNeighbors
	if limit > 0 {
		best = newBoundedNeighbors(limit)
	}
	for _, cb := range order {
		// unvisited points are at least cb.bound away
		if best != nil && best.full() && best.worst() < cb.bound {
			break
		}
		for id, points := range g.cells[cb.key] {
			for _, p := range points {
				d := g.metric.Distance(center, p)
				if cur, seen := nearest[id]; seen && d >= cur.Distance {
					continue
				}
				n := Neighbor{ID: id, Point: p, Distance: d}
				nearest[id] = n
				if best != nil {
					best.offer(n, d >= minDistance && d <= maxDistance)
				}
			}
		}
	}

	results := make([]Neighbor, 0, len(nearest))
	for _, n := range nearest {
		if n.Distance >= minDistance && n.Distance <= maxDistance {
			results = append(results, n)
		}
	}
	sortNeighbors(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Within returns the ids of records with at least one point inside shape,
// in ascending id order.
func (g *GridIndex) Within(shape Shape) []uint64 {
	bounds := shape.Bounds()
	seen := make(map[uint64]bool)
	for key, cell := range g.cells {
		if !g.cellBox(key).Intersects(bounds) {
			continue
		}
		for id, points := range cell {
			if seen[id] {
				continue
			}
			for _, p := range points {
				if shape.Contains(p) {
					seen[id] = true
					break
				}
			}
		}
	}

	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// boundedNeighbors keeps up to limit in-range records with the largest
// distance on top. It may hold fewer records than are in range, so worst
// is an upper bound on the true limit-th distance once full.
type boundedNeighbors struct {
	limit int
	items []Neighbor
	pos   map[uint64]int
}

func newBoundedNeighbors(limit int) *boundedNeighbors {
	return &boundedNeighbors{limit: limit, pos: make(map[uint64]int, limit)}
}

func (b *boundedNeighbors) full() bool     { return len(b.items) >= b.limit }
func (b *boundedNeighbors) worst() float64 { return b.items[0].Distance }

// offer records a closer distance for n.ID.
func (b *boundedNeighbors) offer(n Neighbor, inRange bool) {
	i, held := b.pos[n.ID]
	switch {
	case held && !inRange:
		heap.Remove(b, i)
	case held:
		b.items[i] = n
		heap.Fix(b, i)
	case !inRange:
	case !b.full():
		heap.Push(b, n)
	case n.Distance < b.worst():
		delete(b.pos, b.items[0].ID)
		b.items[0] = n
		b.pos[n.ID] = 0
		heap.Fix(b, 0)
	}
}

func (b *boundedNeighbors) Len() int { return len(b.items) }

func (b *boundedNeighbors) Less(i, j int) bool {
	return b.items[i].Distance > b.items[j].Distance
}

func (b *boundedNeighbors) Swap(i, j int) {
	b.items[i], b.items[j] = b.items[j], b.items[i]
	b.pos[b.items[i].ID] = i
	b.pos[b.items[j].ID] = j
}

func (b *boundedNeighbors) Push(x any) {
	n := x.(Neighbor)
	b.pos[n.ID] = len(b.items)
	b.items = append(b.items, n)
}

func (b *boundedNeighbors) Pop() any {
	last := len(b.items) - 1
	n := b.items[last]
	b.items = b.items[:last]
	delete(b.pos, n.ID)
	return n
}

func sortNeighbors(results []Neighbor) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}
