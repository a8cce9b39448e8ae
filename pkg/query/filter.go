package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/geo"
)

// Node is a compiled predicate over a document.
type Node interface {
	Matches(doc *document.Document) bool
}

type andNode struct{ children []Node }

func (n *andNode) Matches(doc *document.Document) bool {
	for _, c := range n.children {
		if !c.Matches(doc) {
			return false
		}
	}
	return true
}

type orNode struct{ children []Node }

func (n *orNode) Matches(doc *document.Document) bool {
	for _, c := range n.children {
		if c.Matches(doc) {
			return true
		}
	}
	return false
}

type norNode struct{ children []Node }

func (n *norNode) Matches(doc *document.Document) bool {
	for _, c := range n.children {
		if c.Matches(doc) {
			return false
		}
	}
	return true
}

// FieldNode holds the conditions applied to one field path.
type FieldNode struct {
	Path       string
	Conditions []Condition
}

func (n *FieldNode) Matches(doc *document.Document) bool {
	return matchAll(n.Conditions, doc.Resolve(n.Path))
}

// NearClause is a compiled $near or $nearSphere condition. Distances are in
// meters for GeoJSON points and $nearSphere, coordinate units otherwise.
type NearClause struct {
	Path        string
	Point       geo.Point
	Spherical   bool
	MinDistance float64
	MaxDistance float64 // negative means unbounded
}

// Filter is a compiled filter document.
type Filter struct {
	root      *andNode
	near      *NearClause
	allowNear bool
}

// Compile turns a filter document into a Filter. A nil or empty document
// matches everything. Malformed filters fail with document.ErrValidation.
func Compile(filter *document.Document) (*Filter, error) {
	f := &Filter{allowNear: true}
	root, err := f.compileDocument(filter, true)
	if err != nil {
		return nil, err
	}
	f.root = root
	return f, nil
}

// CompileMatch compiles a filter for contexts that cannot order by distance,
// such as an aggregation $match: $near is rejected.
func CompileMatch(filter *document.Document) (*Filter, error) {
	f := &Filter{}
	root, err := f.compileDocument(filter, false)
	if err != nil {
		return nil, err
	}
	f.root = root
	return f, nil
}

// MatchAll returns a filter that matches every document.
func MatchAll() *Filter {
	return &Filter{root: &andNode{}}
}

// Matches reports whether doc satisfies the filter. A $near clause is not
// evaluated here; the caller orders and bounds results by distance.
func (f *Filter) Matches(doc *document.Document) bool {
	return f.root.Matches(doc)
}

// Near returns the $near clause, or nil.
func (f *Filter) Near() *NearClause { return f.near }

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool { return len(f.root.children) == 0 && f.near == nil }

// Conjuncts returns the field conditions that every match must satisfy:
// top-level fields and the fields of nested $and clauses.
func (f *Filter) Conjuncts() []*FieldNode {
	var out []*FieldNode
	var walk func(n *andNode)
	walk = func(n *andNode) {
		for _, c := range n.children {
			switch c := c.(type) {
			case *FieldNode:
				out = append(out, c)
			case *andNode:
				walk(c)
			}
		}
	}
	walk(f.root)
	return out
}

func (f *Filter) compileDocument(filter *document.Document, top bool) (*andNode, error) {
	node := &andNode{}
	if filter == nil {
		return node, nil
	}

	for _, key := range filter.Keys() {
		value, _ := filter.Get(key)

		if strings.HasPrefix(key, "$") {
			child, err := f.compileLogical(Operator(key), value)
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, child)
			continue
		}

		if err := document.ValidatePath(key); err != nil {
			return nil, err
		}
		field, err := f.compileField(key, value, top)
		if err != nil {
			return nil, err
		}
		if field != nil {
			node.children = append(node.children, field)
		}
	}
	return node, nil
}

func (f *Filter) compileLogical(op Operator, value document.Value) (Node, error) {
	switch op {
	case OpAnd, OpOr, OpNor:
	default:
		return nil, fmt.Errorf("%w: unknown top level operator %s", document.ErrValidation, op)
	}

	clauses, ok := value.AsArray()
	if !ok || len(clauses) == 0 {
		return nil, fmt.Errorf("%w: %s must be a nonempty array", document.ErrValidation, op)
	}

	children := make([]Node, 0, len(clauses))
	for _, clause := range clauses {
		doc, ok := clause.AsDocument()
		if !ok {
			return nil, fmt.Errorf("%w: %s entries must be documents", document.ErrValidation, op)
		}
		child, err := f.compileDocument(doc, false)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	switch op {
	case OpAnd:
		return &andNode{children: children}, nil
	case OpOr:
		return &orNode{children: children}, nil
	default:
		return &norNode{children: children}, nil
	}
}

// compileField compiles the value given for a field: a literal, a regex or
// an operator document. It returns nil when the only condition was a $near
// captured into the filter.
func (f *Filter) compileField(path string, value document.Value, top bool) (*FieldNode, error) {
	if re, ok := value.AsRegex(); ok {
		compiled, err := re.Compile()
		if err != nil {
			return nil, err
		}
		return &FieldNode{Path: path, Conditions: []Condition{{Op: OpRegex, Value: value, re: compiled}}}, nil
	}

	ops, ok := value.AsDocument()
	if !ok || !isOperatorDocument(ops) {
		return &FieldNode{Path: path, Conditions: []Condition{{Op: OpEq, Value: value}}}, nil
	}

	for _, k := range ops.Keys() {
		if k == string(OpNear) || k == string(OpNearSphere) {
			return f.compileNear(path, ops, top)
		}
	}

	conds, err := compileConditions(ops)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", path, err)
	}
	return &FieldNode{Path: path, Conditions: conds}, nil
}

// isOperatorDocument reports whether every key starts with "$". Mixing
// operators and plain fields is rejected later by compileConditions.
func isOperatorDocument(doc *document.Document) bool {
	keys := doc.Keys()
	return len(keys) > 0 && strings.HasPrefix(keys[0], "$")
}

func compileConditions(ops *document.Document) ([]Condition, error) {
	var conds []Condition

	// $regex and $options pair up
	if rv, ok := ops.Get(string(OpRegex)); ok {
		c, err := compileRegex(rv, ops)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	} else if ops.Has(string(OpOptions)) {
		return nil, fmt.Errorf("%w: $options needs a $regex", document.ErrValidation)
	}

	for _, key := range ops.Keys() {
		op := Operator(key)
		if op == OpRegex || op == OpOptions {
			continue
		}
		arg, _ := ops.Get(key)
		c, err := compileCondition(op, arg)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func compileRegex(rv document.Value, ops *document.Document) (Condition, error) {
	var re *document.Regex
	switch rv.Type {
	case document.TypeString:
		s, _ := rv.AsString()
		re = &document.Regex{Pattern: s}
	case document.TypeRegex:
		r, _ := rv.AsRegex()
		re = &document.Regex{Pattern: r.Pattern, Options: r.Options}
	default:
		return Condition{}, fmt.Errorf("%w: $regex must be a string or regex", document.ErrValidation)
	}
	if ov, ok := ops.Get(string(OpOptions)); ok {
		opts, ok := ov.AsString()
		if !ok {
			return Condition{}, fmt.Errorf("%w: $options must be a string", document.ErrValidation)
		}
		re.Options = opts
	}
	compiled, err := re.Compile()
	if err != nil {
		return Condition{}, err
	}
	return Condition{Op: OpRegex, Value: document.NewValue(re), re: compiled}, nil
}

func compileCondition(op Operator, arg document.Value) (Condition, error) {
	c := Condition{Op: op, Value: arg}

	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return c, nil

	case OpExists:
		return c, nil

	case OpIn, OpNin, OpAll:
		items, ok := arg.AsArray()
		if !ok {
			return c, fmt.Errorf("%w: %s needs an array", document.ErrValidation, op)
		}
		c.inRegex = make([]*regexp.Regexp, len(items))
		for i, item := range items {
			if r, ok := item.AsRegex(); ok {
				compiled, err := r.Compile()
				if err != nil {
					return c, err
				}
				c.inRegex[i] = compiled
			}
		}
		return c, nil

	case OpNot:
		if r, ok := arg.AsRegex(); ok {
			compiled, err := r.Compile()
			if err != nil {
				return c, err
			}
			c.not = []Condition{{Op: OpRegex, Value: arg, re: compiled}}
			return c, nil
		}
		sub, ok := arg.AsDocument()
		if !ok || !isOperatorDocument(sub) {
			return c, fmt.Errorf("%w: $not needs a regex or an operator document", document.ErrValidation)
		}
		not, err := compileConditions(sub)
		if err != nil {
			return c, err
		}
		c.not = not
		return c, nil

	case OpSize:
		n, ok := arg.AsNumber()
		if !ok || n < 0 || n != float64(int64(n)) {
			return c, fmt.Errorf("%w: $size needs a non-negative integer", document.ErrValidation)
		}
		return c, nil

	case OpElemMatch:
		sub, ok := arg.AsDocument()
		if !ok {
			return c, fmt.Errorf("%w: $elemMatch needs a document", document.ErrValidation)
		}
		if isOperatorDocument(sub) && !isLogicalDocument(sub) {
			conds, err := compileConditions(sub)
			if err != nil {
				return c, err
			}
			c.elemConds = conds
			return c, nil
		}
		inner, err := CompileMatch(sub)
		if err != nil {
			return c, err
		}
		c.elemDoc = inner
		return c, nil

	case OpGeoWithin:
		spec, ok := arg.AsDocument()
		if !ok {
			return c, fmt.Errorf("%w: $geoWithin needs a shape document", document.ErrValidation)
		}
		shape, err := geo.ParseShape(spec)
		if err != nil {
			return c, err
		}
		c.shape = shape
		return c, nil

	case OpNear, OpNearSphere:
		return c, fmt.Errorf("%w: %s is not allowed in this context", document.ErrValidation, op)

	default:
		return c, fmt.Errorf("%w: unknown operator %s", document.ErrValidation, op)
	}
}

func isLogicalDocument(doc *document.Document) bool {
	for _, k := range doc.Keys() {
		switch Operator(k) {
		case OpAnd, OpOr, OpNor:
			return true
		}
	}
	return false
}

// compileNear reads {$near: point, $minDistance, $maxDistance} where point
// is {$geometry: GeoJSON} or a legacy pair.
func (f *Filter) compileNear(path string, ops *document.Document, top bool) (*FieldNode, error) {
	if !f.allowNear || !top {
		return nil, fmt.Errorf("%w: $near is only allowed at the top level of a find filter", document.ErrValidation)
	}
	if f.near != nil {
		return nil, fmt.Errorf("%w: only one $near clause is allowed", document.ErrValidation)
	}

	clause := &NearClause{Path: path, MaxDistance: -1}
	for _, key := range ops.Keys() {
		arg, _ := ops.Get(key)
		switch Operator(key) {
		case OpNear, OpNearSphere:
			clause.Spherical = Operator(key) == OpNearSphere
			if spec, ok := arg.AsDocument(); ok && spec.Has(string(OpGeometry)) {
				g, _ := spec.Get(string(OpGeometry))
				p, err := geo.ParsePoint(g)
				if err != nil {
					return nil, err
				}
				clause.Point = p
				clause.Spherical = true
				for _, inner := range []Operator{OpMinDistance, OpMaxDistance} {
					if v, ok := spec.Get(string(inner)); ok {
						if err := clause.setDistance(inner, v); err != nil {
							return nil, err
						}
					}
				}
				continue
			}
			p, err := geo.ParsePoint(arg)
			if err != nil {
				return nil, err
			}
			clause.Point = p
		case OpMinDistance, OpMaxDistance:
			if err := clause.setDistance(Operator(key), arg); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %s cannot be combined with $near", document.ErrValidation, key)
		}
	}

	if clause.Spherical && !clause.Point.Valid() {
		return nil, fmt.Errorf("%w: invalid $near point [%v, %v]", document.ErrValidation, clause.Point.Lon, clause.Point.Lat)
	}
	f.near = clause
	return nil, nil
}

func (c *NearClause) setDistance(op Operator, v document.Value) error {
	d, ok := v.AsNumber()
	if !ok || d < 0 {
		return fmt.Errorf("%w: %s must be a non-negative number", document.ErrValidation, op)
	}
	if op == OpMinDistance {
		c.MinDistance = d
	} else {
		c.MaxDistance = d
	}
	return nil
}
