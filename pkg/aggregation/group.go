package aggregation

import (
	"fmt"
	"math"
	"sort"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// GroupStage groups documents by a key expression. Groups are output in
// the order their first document arrived.
type GroupStage struct {
	id    Expr
	specs []AccumulatorSpec
}

func newGroupStage(spec document.Value) (*GroupStage, error) {
	doc, ok := spec.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: $group requires a document", document.ErrValidation)
	}
	idSpec, ok := doc.Get("_id")
	if !ok {
		return nil, fmt.Errorf("%w: $group requires an _id expression", document.ErrValidation)
	}
	id, err := CompileExpression(idSpec)
	if err != nil {
		return nil, fmt.Errorf("$group _id: %w", err)
	}
	specs, err := compileAccumulators("$group", doc, "_id")
	if err != nil {
		return nil, err
	}
	return &GroupStage{id: id, specs: specs}, nil
}

type group struct {
	key  document.Value
	accs []Accumulator
}

func (s *GroupStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	groups := make(map[string]*group)
	var order []*group

	for _, doc := range docs {
		key, err := s.id.Eval(NewEnv(doc))
		if err != nil {
			return nil, err
		}
		if key.IsMissing() {
			key = document.Null()
		}
		k := document.KeyString(key)
		g, ok := groups[k]
		if !ok {
			g = &group{key: key, accs: newAccumulators(s.specs)}
			groups[k] = g
			order = append(order, g)
		}
		if err := accumulate(s.specs, g.accs, doc); err != nil {
			return nil, err
		}
	}

	out := make([]*document.Document, 0, len(order))
	for _, g := range order {
		out = append(out, groupDocument(g.key, s.specs, g.accs))
	}
	return out, nil
}

func (s *GroupStage) Type() string { return "$group" }

func groupDocument(id document.Value, specs []AccumulatorSpec, accs []Accumulator) *document.Document {
	doc := document.NewDocument()
	doc.Set("_id", id)
	for i, spec := range specs {
		doc.Set(spec.Field, accs[i].Result())
	}
	return doc
}

// outputSpecs reads the optional output field of $bucket and $bucketAuto.
// Without it each bucket counts its documents.
func outputSpecs(stage string, doc *document.Document) ([]AccumulatorSpec, error) {
	v, ok := doc.Get("output")
	if !ok {
		return []AccumulatorSpec{{Field: "count", Op: "$sum", Expr: literalExpr{document.Int(1)}}}, nil
	}
	output, ok := v.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: %s output must be a document", document.ErrValidation, stage)
	}
	return compileAccumulators(stage, output, "")
}

func groupByExpr(stage string, doc *document.Document) (Expr, error) {
	v, ok := doc.Get("groupBy")
	if !ok {
		return nil, fmt.Errorf("%w: %s requires groupBy", document.ErrValidation, stage)
	}
	if v.Type != document.TypeString && v.Type != document.TypeDocument {
		return nil, fmt.Errorf("%w: %s groupBy must be a field path or an expression", document.ErrValidation, stage)
	}
	expr, err := CompileExpression(v)
	if err != nil {
		return nil, fmt.Errorf("%s groupBy: %w", stage, err)
	}
	return expr, nil
}

// BucketStage groups documents into [lower, upper) ranges given by sorted
// boundaries.
type BucketStage struct {
	groupBy    Expr
	boundaries []document.Value
	def        document.Value // Missing when there is no default bucket
	specs      []AccumulatorSpec
}

func newBucketStage(spec document.Value) (*BucketStage, error) {
	doc, ok := spec.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: $bucket requires a document", document.ErrValidation)
	}
	for _, key := range doc.Keys() {
		switch key {
		case "groupBy", "boundaries", "default", "output":
		default:
			return nil, fmt.Errorf("%w: unknown $bucket option %q", document.ErrValidation, key)
		}
	}

	s := &BucketStage{}
	var err error
	if s.groupBy, err = groupByExpr("$bucket", doc); err != nil {
		return nil, err
	}

	bv, _ := doc.Get("boundaries")
	bounds, ok := bv.AsArray()
	if !ok || len(bounds) < 2 {
		return nil, fmt.Errorf("%w: $bucket requires at least two boundaries", document.ErrValidation)
	}
	for i, b := range bounds {
		if b.IsNull() {
			return nil, fmt.Errorf("%w: $bucket boundaries cannot be null", document.ErrValidation)
		}
		if i == 0 {
			continue
		}
		if document.TypeRank(b.Type) != document.TypeRank(bounds[0].Type) {
			return nil, fmt.Errorf("%w: $bucket boundaries must all have the same type", document.ErrValidation)
		}
		if document.Compare(bounds[i-1], b) >= 0 {
			return nil, fmt.Errorf("%w: $bucket boundaries must be strictly ascending", document.ErrValidation)
		}
	}
	s.boundaries = bounds

	if def, ok := doc.Get("default"); ok {
		if document.Compare(def, bounds[0]) >= 0 && document.Compare(def, bounds[len(bounds)-1]) < 0 &&
			document.TypeRank(def.Type) == document.TypeRank(bounds[0].Type) {
			return nil, fmt.Errorf("%w: $bucket default must lie outside the boundaries", document.ErrValidation)
		}
		s.def = def
	}

	if s.specs, err = outputSpecs("$bucket", doc); err != nil {
		return nil, err
	}
	return s, nil
}

// Execute outputs buckets in boundary order, followed by the default bucket.
// Empty buckets are omitted. Without a default, out-of-range documents are
// dropped.
func (s *BucketStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	buckets := make([][]Accumulator, len(s.boundaries)-1)
	var defAccs []Accumulator

	for _, doc := range docs {
		v, err := s.groupBy.Eval(NewEnv(doc))
		if err != nil {
			return nil, err
		}
		i := s.bucketOf(v)
		if i < 0 {
			if s.def.IsMissing() {
				continue
			}
			if defAccs == nil {
				defAccs = newAccumulators(s.specs)
			}
			if err := accumulate(s.specs, defAccs, doc); err != nil {
				return nil, err
			}
			continue
		}
		if buckets[i] == nil {
			buckets[i] = newAccumulators(s.specs)
		}
		if err := accumulate(s.specs, buckets[i], doc); err != nil {
			return nil, err
		}
	}

	var out []*document.Document
	for i, accs := range buckets {
		if accs != nil {
			out = append(out, groupDocument(s.boundaries[i], s.specs, accs))
		}
	}
	if defAccs != nil {
		out = append(out, groupDocument(s.def, s.specs, defAccs))
	}
	return out, nil
}

// bucketOf returns the index of the bucket holding v, or -1.
func (s *BucketStage) bucketOf(v document.Value) int {
	if document.TypeRank(v.Type) != document.TypeRank(s.boundaries[0].Type) || v.IsNull() {
		return -1
	}
	// first boundary greater than v
	i := sort.Search(len(s.boundaries), func(i int) bool {
		return document.Compare(s.boundaries[i], v) > 0
	})
	if i == 0 || i == len(s.boundaries) {
		return -1
	}
	return i - 1
}

func (s *BucketStage) Type() string { return "$bucket" }

// BucketAutoStage splits documents into a fixed number of buckets of
// roughly equal size.
type BucketAutoStage struct {
	groupBy Expr
	buckets int
	specs   []AccumulatorSpec
}

func newBucketAutoStage(spec document.Value) (*BucketAutoStage, error) {
	doc, ok := spec.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: $bucketAuto requires a document", document.ErrValidation)
	}
	for _, key := range doc.Keys() {
		switch key {
		case "groupBy", "buckets", "output":
		case "granularity":
			return nil, fmt.Errorf("%w: $bucketAuto granularity is not supported", document.ErrValidation)
		default:
			return nil, fmt.Errorf("%w: unknown $bucketAuto option %q", document.ErrValidation, key)
		}
	}

	s := &BucketAutoStage{}
	var err error
	if s.groupBy, err = groupByExpr("$bucketAuto", doc); err != nil {
		return nil, err
	}
	bv, _ := doc.Get("buckets")
	n, ok := bv.AsNumber()
	if !ok || n < 1 || n != math.Trunc(n) || n > math.MaxInt32 {
		return nil, fmt.Errorf("%w: $bucketAuto buckets must be a positive integer", document.ErrValidation)
	}
	s.buckets = int(n)
	if s.specs, err = outputSpecs("$bucketAuto", doc); err != nil {
		return nil, err
	}
	return s, nil
}

type keyedDoc struct {
	key document.Value
	doc *document.Document
}

// Execute sorts documents by their groupBy value and cuts the sorted run
// into consecutive buckets. A bucket never splits equal values, so fewer
// buckets than requested may be produced. Each bucket's _id is {min, max};
// max is the next bucket's min, or the largest value for the last bucket.
func (s *BucketAutoStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	keyed := make([]keyedDoc, len(docs))
	for i, doc := range docs {
		v, err := s.groupBy.Eval(NewEnv(doc))
		if err != nil {
			return nil, err
		}
		if v.IsMissing() {
			v = document.Null()
		}
		keyed[i] = keyedDoc{key: v, doc: doc}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		return document.Compare(keyed[i].key, keyed[j].key) < 0
	})

	n := len(keyed)
	type bucket struct {
		start, end int
	}
	var cuts []bucket
	for i, b := 0, 0; i < n; b++ {
		end := int(math.Round(float64(n) * float64(b+1) / float64(s.buckets)))
		if end <= i {
			end = i + 1
		}
		if b == s.buckets-1 || end > n {
			end = n
		}
		for end < n && document.Equal(keyed[end-1].key, keyed[end].key) {
			end++
		}
		cuts = append(cuts, bucket{start: i, end: end})
		i = end
	}

	out := make([]*document.Document, 0, len(cuts))
	for ci, c := range cuts {
		accs := newAccumulators(s.specs)
		for _, kd := range keyed[c.start:c.end] {
			if err := accumulate(s.specs, accs, kd.doc); err != nil {
				return nil, err
			}
		}
		upper := keyed[c.end-1].key
		if ci+1 < len(cuts) {
			upper = keyed[cuts[ci+1].start].key
		}
		id := document.D("min", keyed[c.start].key, "max", upper)
		out = append(out, groupDocument(document.DocValue(id), s.specs, accs))
	}
	return out, nil
}

func (s *BucketAutoStage) Type() string { return "$bucketAuto" }
