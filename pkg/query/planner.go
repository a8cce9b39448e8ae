package query

import (
	"fmt"
	"math"
	"sort"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/geo"
	"github.com/mnohosten/laura-engine/pkg/index"
)

// ScanType represents the access path chosen for a query
type ScanType int

const (
	ScanTypeCollection ScanType = iota // Full collection scan
	ScanTypeIndexExact                 // Equality on every indexed field
	ScanTypeIndexRange                 // Equality prefix and/or range
	ScanTypeGeoNear                    // Distance-ordered spatial scan
	ScanTypeGeoWithin                  // Spatial containment scan
)

func (s ScanType) String() string {
	switch s {
	case ScanTypeIndexExact, ScanTypeIndexRange:
		return "IXSCAN"
	case ScanTypeGeoNear:
		return "GEO_NEAR"
	case ScanTypeGeoWithin:
		return "GEO_WITHIN"
	default:
		return "COLLSCAN"
	}
}

// QueryPlan represents an execution plan for a query. Index plans produce
// candidates only; every candidate is still checked against the full filter.
type QueryPlan struct {
	ScanType  ScanType
	IndexName string
	Index     *index.Index
	GeoIndex  *index.GeoIndex
	Bounds    index.Bounds
	Near      *NearClause
	Within    geo.Shape

	// IndexedFields are the filter paths answered by the index bounds
	IndexedFields []string
}

// UseIndex reports whether the plan reads an index.
func (p *QueryPlan) UseIndex() bool { return p.ScanType != ScanTypeCollection }

// QueryPlanner plans query execution
type QueryPlanner struct {
	indexes []index.Indexer
}

// NewQueryPlanner creates a new query planner
func NewQueryPlanner(indexes []index.Indexer) *QueryPlanner {
	return &QueryPlanner{indexes: indexes}
}

// Plan picks an access path for f. Filters with $near require a spatial
// index on the field and fail with index.ErrIndexRequired otherwise.
//
// Among ordered indexes the one binding the most leading fields by
// equality wins, then one adding a range, then the most selective.
func (qp *QueryPlanner) Plan(f *Filter) (*QueryPlan, error) {
	if near := f.Near(); near != nil {
		gi := qp.geoIndexFor(near.Path, near.Spherical)
		if gi == nil {
			return nil, fmt.Errorf("%w: $near on %q needs a 2dsphere or 2d index", index.ErrIndexRequired, near.Path)
		}
		return &QueryPlan{
			ScanType:      ScanTypeGeoNear,
			IndexName:     gi.Name(),
			GeoIndex:      gi,
			Near:          near,
			IndexedFields: []string{near.Path},
		}, nil
	}

	conjuncts := f.Conjuncts()
	best := &QueryPlan{ScanType: ScanTypeCollection}
	var bestScore float64

	for _, ix := range qp.indexes {
		idx, ok := ix.(*index.Index)
		if !ok {
			continue
		}
		plan := analyzeIndex(idx, conjuncts)
		if plan == nil {
			continue
		}
		score := float64(10*len(plan.Bounds.Equals)) + idx.Stats().Selectivity()
		if plan.Bounds.Range != nil {
			score += 5
		}
		if score > bestScore || (score == bestScore && best.UseIndex() && plan.IndexName < best.IndexName) {
			best, bestScore = plan, score
		}
	}
	if best.UseIndex() {
		return best, nil
	}

	for _, fn := range conjuncts {
		for _, c := range fn.Conditions {
			if c.Op != OpGeoWithin {
				continue
			}
			if gi := qp.geoIndexFor(fn.Path, true); gi != nil {
				return &QueryPlan{
					ScanType:      ScanTypeGeoWithin,
					IndexName:     gi.Name(),
					GeoIndex:      gi,
					Within:        c.shape,
					IndexedFields: []string{fn.Path},
				}, nil
			}
		}
	}
	return best, nil
}

// geoIndexFor returns a spatial index on path, preferring the one whose
// metric matches.
func (qp *QueryPlanner) geoIndexFor(path string, spherical bool) *index.GeoIndex {
	var fallback *index.GeoIndex
	for _, ix := range qp.indexes {
		gi, ok := ix.(*index.GeoIndex)
		if !ok || gi.Path() != path {
			continue
		}
		if (gi.Metric() == geo.Spherical) == spherical {
			return gi
		}
		fallback = gi
	}
	return fallback
}

// analyzeIndex matches the index's key fields in order against the filter:
// equality on a prefix, then at most one range on the next field.
func analyzeIndex(idx *index.Index, conjuncts []*FieldNode) *QueryPlan {
	spec := idx.Spec()
	plan := &QueryPlan{
		IndexName: spec.Name,
		Index:     idx,
	}

	for _, key := range spec.Keys {
		conds := conditionsOn(conjuncts, key.Path)

		if eq, ok := firstMatching(conds, Condition.IsEquality); ok {
			plan.Bounds.Equals = append(plan.Bounds.Equals, eq.Value)
			plan.IndexedFields = append(plan.IndexedFields, key.Path)
			continue
		}
		if rc, ok := firstMatching(conds, Condition.IsRange); ok {
			plan.Bounds.Range = bracketRange(rc)
			plan.IndexedFields = append(plan.IndexedFields, key.Path)
		}
		break
	}

	switch {
	case len(plan.IndexedFields) == 0:
		return nil
	case plan.Bounds.Range == nil && len(plan.Bounds.Equals) == len(spec.Keys):
		plan.ScanType = ScanTypeIndexExact
	default:
		plan.ScanType = ScanTypeIndexRange
	}
	return plan
}

func conditionsOn(conjuncts []*FieldNode, path string) []Condition {
	var out []Condition
	for _, fn := range conjuncts {
		if fn.Path == path {
			out = append(out, fn.Conditions...)
		}
	}
	return out
}

func firstMatching(conds []Condition, pred func(Condition) bool) (Condition, bool) {
	for _, c := range conds {
		if pred(c) {
			return c, true
		}
	}
	return Condition{}, false
}

// bracketRange turns one range operator into index bounds. The open side
// is closed at the edge of the operand's type class, matching the type
// bracketing of comparisons. Only one operator is used: on multikey fields
// two operators may be satisfied by different elements.
func bracketRange(c Condition) *index.Range {
	r := &index.Range{}
	switch c.Op {
	case OpGt, OpGte:
		r.Lower, r.HasLower, r.LowerInclusive = c.Value, true, c.Op == OpGte
		if ceil, ok := typeCeiling(c.Value.Type); ok {
			r.Upper, r.HasUpper = ceil, true
		}
	case OpLt, OpLte:
		r.Upper, r.HasUpper, r.UpperInclusive = c.Value, true, c.Op == OpLte
		if floor, ok := typeFloor(c.Value.Type); ok {
			r.Lower, r.HasLower, r.LowerInclusive = floor, true, true
		}
	}
	return r
}

// typeFloor is the smallest value of a type class.
func typeFloor(t document.Type) (document.Value, bool) {
	switch t {
	case document.TypeNumber:
		return document.Number(math.NaN()), true
	case document.TypeString:
		return document.String(""), true
	case document.TypeDocument:
		return document.DocValue(document.NewDocument()), true
	case document.TypeArray:
		return document.Array(), true
	case document.TypeObjectID:
		return document.OID(document.ObjectID{}), true
	case document.TypeBoolean:
		return document.Bool(false), true
	}
	return document.Value{}, false
}

// typeCeiling is the smallest value above every value of a type class.
func typeCeiling(t document.Type) (document.Value, bool) {
	order := []document.Type{
		document.TypeNumber, document.TypeString, document.TypeDocument,
		document.TypeArray, document.TypeObjectID, document.TypeBoolean,
	}
	for i := 0; i < len(order)-1; i++ {
		if order[i] == t {
			return typeFloor(order[i+1])
		}
	}
	if t == document.TypeDate {
		return document.RegexValue("", ""), true
	}
	return document.Value{}, false
}

// Document renders the plan for explain output.
func (p *QueryPlan) Document() *document.Document {
	doc := document.D("stage", p.ScanType.String())
	if !p.UseIndex() {
		return doc
	}
	doc.Set("indexName", p.IndexName)

	switch p.ScanType {
	case ScanTypeGeoNear:
		doc.Set("near", document.A(p.Near.Point.Lon, p.Near.Point.Lat))
		doc.Set("minDistance", p.Near.MinDistance)
		if p.Near.MaxDistance >= 0 {
			doc.Set("maxDistance", p.Near.MaxDistance)
		}
	case ScanTypeGeoWithin:
		doc.Set("keyPattern", p.GeoIndex.Spec().KeyDocument())
	default:
		spec := p.Index.Spec()
		doc.Set("keyPattern", spec.KeyDocument())
		bounds := document.NewDocument()
		for i, path := range p.IndexedFields {
			if i < len(p.Bounds.Equals) {
				v := p.Bounds.Equals[i]
				bounds.Set(path, document.A(fmt.Sprintf("[%s, %s]", v, v)))
				continue
			}
			bounds.Set(path, document.A(formatRange(p.Bounds.Range)))
		}
		doc.Set("indexBounds", bounds)
	}
	return doc
}

func formatRange(r *index.Range) string {
	lo, hi := "[MinKey", "MaxKey]"
	if r.HasLower {
		open := "("
		if r.LowerInclusive {
			open = "["
		}
		lo = open + r.Lower.String()
	}
	if r.HasUpper {
		closeBr := ")"
		if r.UpperInclusive {
			closeBr = "]"
		}
		hi = r.Upper.String() + closeBr
	}
	return lo + ", " + hi
}

// SortIDs sorts record ids ascending, restoring insertion order after an
// index scan.
func SortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
