package aggregation

import (
	"fmt"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// Accumulator folds the values of one group into a result.
type Accumulator interface {
	Add(v document.Value)
	Result() document.Value
}

// AccumulatorSpec is a compiled output field such as {total: {$sum: "$qty"}}.
type AccumulatorSpec struct {
	Field string
	Op    string
	Expr  Expr
}

// New returns a fresh accumulator for one group.
func (s AccumulatorSpec) New() Accumulator {
	switch s.Op {
	case "$sum", "$count":
		return &sumAcc{}
	case "$avg":
		return &avgAcc{}
	case "$push":
		return &pushAcc{}
	case "$addToSet":
		return &setAcc{seen: make(map[string]bool)}
	case "$min":
		return &extremeAcc{dir: -1}
	case "$max":
		return &extremeAcc{dir: 1}
	case "$first":
		return &firstAcc{}
	default:
		return &lastAcc{}
	}
}

// compileAccumulators reads the output fields of $group, $bucket and
// $bucketAuto. Each must be a single accumulator operator.
func compileAccumulators(stage string, spec *document.Document, skip string) ([]AccumulatorSpec, error) {
	var out []AccumulatorSpec
	for _, field := range spec.Keys() {
		if field == skip {
			continue
		}
		if err := document.ValidatePath(field); err != nil {
			return nil, err
		}
		v, _ := spec.Get(field)
		acc, ok := v.AsDocument()
		if !ok || acc.Len() != 1 {
			return nil, fmt.Errorf("%w: %s field %q must specify one accumulator", document.ErrValidation, stage, field)
		}
		op := acc.Keys()[0]
		arg, _ := acc.Get(op)

		var expr Expr
		switch op {
		case "$count":
			if d, ok := arg.AsDocument(); !ok || d.Len() != 0 {
				return nil, fmt.Errorf("%w: $count accumulator takes an empty document", document.ErrValidation)
			}
			expr = literalExpr{document.Int(1)}
		case "$sum", "$avg", "$push", "$addToSet", "$min", "$max", "$first", "$last":
			var err error
			if expr, err = CompileExpression(arg); err != nil {
				return nil, fmt.Errorf("%s field %q: %w", stage, field, err)
			}
		default:
			return nil, fmt.Errorf("%w: unknown accumulator %s", document.ErrValidation, op)
		}
		out = append(out, AccumulatorSpec{Field: field, Op: op, Expr: expr})
	}
	return out, nil
}

// accumulate feeds doc to accs, evaluating each spec's expression.
func accumulate(specs []AccumulatorSpec, accs []Accumulator, doc *document.Document) error {
	env := NewEnv(doc)
	for i, s := range specs {
		v, err := s.Expr.Eval(env)
		if err != nil {
			return fmt.Errorf("%s %s: %w", s.Field, s.Op, err)
		}
		accs[i].Add(v)
	}
	return nil
}

func newAccumulators(specs []AccumulatorSpec) []Accumulator {
	accs := make([]Accumulator, len(specs))
	for i, s := range specs {
		accs[i] = s.New()
	}
	return accs
}

// sumAcc ignores non-numeric values.
type sumAcc struct{ sum float64 }

func (a *sumAcc) Add(v document.Value) {
	if n, ok := v.AsNumber(); ok {
		a.sum += n
	}
}

func (a *sumAcc) Result() document.Value { return document.Number(a.sum) }

type avgAcc struct {
	sum   float64
	count int
}

func (a *avgAcc) Add(v document.Value) {
	if n, ok := v.AsNumber(); ok {
		a.sum += n
		a.count++
	}
}

func (a *avgAcc) Result() document.Value {
	if a.count == 0 {
		return document.Null()
	}
	return document.Number(a.sum / float64(a.count))
}

type pushAcc struct{ items []document.Value }

func (a *pushAcc) Add(v document.Value) {
	if !v.IsMissing() {
		a.items = append(a.items, v)
	}
}

func (a *pushAcc) Result() document.Value { return document.Array(a.items...) }

// setAcc keeps first occurrences in arrival order.
type setAcc struct {
	items []document.Value
	seen  map[string]bool
}

func (a *setAcc) Add(v document.Value) {
	if v.IsMissing() {
		return
	}
	key := document.KeyString(v)
	if !a.seen[key] {
		a.seen[key] = true
		a.items = append(a.items, v)
	}
}

func (a *setAcc) Result() document.Value { return document.Array(a.items...) }

type extremeAcc struct {
	dir   int
	best  document.Value
	found bool
}

func (a *extremeAcc) Add(v document.Value) {
	if v.IsNull() {
		return
	}
	if !a.found || document.Compare(v, a.best)*a.dir > 0 {
		a.best, a.found = v, true
	}
}

func (a *extremeAcc) Result() document.Value {
	if !a.found {
		return document.Null()
	}
	return a.best
}

type firstAcc struct {
	v   document.Value
	set bool
}

func (a *firstAcc) Add(v document.Value) {
	if !a.set {
		a.v, a.set = v, true
	}
}

func (a *firstAcc) Result() document.Value {
	if a.v.IsMissing() {
		return document.Null()
	}
	return a.v
}

type lastAcc struct{ v document.Value }

func (a *lastAcc) Add(v document.Value) { a.v = v }

func (a *lastAcc) Result() document.Value {
	if a.v.IsMissing() {
		return document.Null()
	}
	return a.v
}
