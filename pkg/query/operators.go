package query

import (
	"regexp"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/geo"
)

// Operator represents a query operator
type Operator string

const (
	// Comparison operators
	OpEq  Operator = "$eq"
	OpNe  Operator = "$ne"
	OpGt  Operator = "$gt"
	OpGte Operator = "$gte"
	OpLt  Operator = "$lt"
	OpLte Operator = "$lte"
	OpIn  Operator = "$in"
	OpNin Operator = "$nin"

	// Logical operators
	OpAnd Operator = "$and"
	OpOr  Operator = "$or"
	OpNor Operator = "$nor"
	OpNot Operator = "$not"

	// Element operators
	OpExists Operator = "$exists"

	// Evaluation operators
	OpRegex   Operator = "$regex"
	OpOptions Operator = "$options"

	// Array operators
	OpSize      Operator = "$size"
	OpAll       Operator = "$all"
	OpElemMatch Operator = "$elemMatch"

	// Geospatial operators
	OpNear        Operator = "$near"
	OpNearSphere  Operator = "$nearSphere"
	OpGeoWithin   Operator = "$geoWithin"
	OpGeometry    Operator = "$geometry"
	OpMinDistance Operator = "$minDistance"
	OpMaxDistance Operator = "$maxDistance"
)

// Condition is one compiled operator applied to the values found at a field
// path.
type Condition struct {
	Op    Operator
	Value document.Value

	re        *regexp.Regexp // $regex, or literal regex in $in/$nin/$all
	inRegex   []*regexp.Regexp
	not       []Condition // $not
	elemConds []Condition // $elemMatch with operator form
	elemDoc   *Filter     // $elemMatch with query form
	shape     geo.Shape   // $geoWithin
}

// IsEquality reports whether the condition is an index-usable equality.
func (c Condition) IsEquality() bool {
	if c.Op != OpEq || c.re != nil {
		return false
	}
	switch c.Value.Type {
	case document.TypeArray, document.TypeRegex:
		return false
	}
	return true
}

// IsRange reports whether the condition bounds a range of values.
func (c Condition) IsRange() bool {
	switch c.Op {
	case OpGt, OpGte, OpLt, OpLte:
		return !c.Value.IsNull() && c.Value.Type != document.TypeArray && c.Value.Type != document.TypeRegex
	}
	return false
}

// match evaluates the condition against the values resolved at a path. No
// values means the field is missing.
func (c Condition) match(vals []document.Value) bool {
	switch c.Op {
	case OpEq:
		if c.re != nil {
			return anyString(vals, c.re)
		}
		return matchEq(vals, c.Value)
	case OpNe:
		return !matchEq(vals, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return matchCompare(c.Op, vals, c.Value)
	case OpIn:
		return c.matchIn(vals)
	case OpNin:
		return !c.matchIn(vals)
	case OpExists:
		return (len(vals) > 0) == c.Value.Truthy()
	case OpRegex:
		return anyString(vals, c.re)
	case OpNot:
		for _, sub := range c.not {
			if !sub.match(vals) {
				return true
			}
		}
		return false
	case OpSize:
		n, _ := c.Value.AsNumber()
		for _, v := range vals {
			if arr, ok := v.AsArray(); ok && float64(len(arr)) == n {
				return true
			}
		}
		return false
	case OpAll:
		items, _ := c.Value.AsArray()
		if len(items) == 0 {
			return false
		}
		for i, item := range items {
			if re := c.inRegex[i]; re != nil {
				if !anyString(vals, re) {
					return false
				}
			} else if !matchEq(vals, item) {
				return false
			}
		}
		return true
	case OpElemMatch:
		return c.matchElem(vals)
	case OpGeoWithin:
		for _, v := range vals {
			for _, p := range geo.PointsOf(v) {
				if c.shape.Contains(p) {
					return true
				}
			}
		}
		return false
	}
	return false
}

func (c Condition) matchIn(vals []document.Value) bool {
	items, _ := c.Value.AsArray()
	for i, item := range items {
		if re := c.inRegex[i]; re != nil {
			if anyString(vals, re) {
				return true
			}
		} else if matchEq(vals, item) {
			return true
		}
	}
	return false
}

func (c Condition) matchElem(vals []document.Value) bool {
	for _, v := range vals {
		arr, ok := v.AsArray()
		if !ok {
			continue
		}
		for _, elem := range arr {
			if c.elemDoc != nil {
				if doc, ok := elem.AsDocument(); ok && c.elemDoc.Matches(doc) {
					return true
				}
				continue
			}
			if matchAll(c.elemConds, []document.Value{elem}) {
				return true
			}
		}
	}
	return false
}

func matchAll(conds []Condition, vals []document.Value) bool {
	for _, c := range conds {
		if !c.match(vals) {
			return false
		}
	}
	return true
}

// candidates expands the resolved values with the elements of any arrays,
// so operators match "the field or any element of it".
func candidates(vals []document.Value) []document.Value {
	out := make([]document.Value, 0, len(vals))
	for _, v := range vals {
		out = append(out, v)
		if arr, ok := v.AsArray(); ok {
			out = append(out, arr...)
		}
	}
	return out
}

// matchEq implements equality with null matching missing fields.
func matchEq(vals []document.Value, want document.Value) bool {
	if want.IsNull() && len(vals) == 0 {
		return true
	}
	for _, v := range candidates(vals) {
		if document.Equal(v, want) {
			return true
		}
	}
	return false
}

// matchCompare applies a range operator. Values are only compared with
// values of the same type class.
func matchCompare(op Operator, vals []document.Value, bound document.Value) bool {
	if bound.IsNull() {
		if op == OpGte || op == OpLte {
			return matchEq(vals, bound)
		}
		return false
	}

	rank := document.TypeRank(bound.Type)
	for _, v := range candidates(vals) {
		if document.TypeRank(v.Type) != rank {
			continue
		}
		c := document.Compare(v, bound)
		switch op {
		case OpGt:
			if c > 0 {
				return true
			}
		case OpGte:
			if c >= 0 {
				return true
			}
		case OpLt:
			if c < 0 {
				return true
			}
		case OpLte:
			if c <= 0 {
				return true
			}
		}
	}
	return false
}

func anyString(vals []document.Value, re *regexp.Regexp) bool {
	for _, v := range candidates(vals) {
		if s, ok := v.AsString(); ok && re.MatchString(s) {
			return true
		}
	}
	return false
}
