package update

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/query"
)

// pushSpec holds the values and modifiers of a $push or $addToSet.
type pushSpec struct {
	set      bool
	each     []document.Value
	position *int
	slice    *int
	sortDir  int            // element sort for scalars, 0 when unset
	sortSpec query.SortSpec // element sort for embedded documents
}

// compilePush reads either a single value or {$each: [...], $position,
// $slice, $sort}. $addToSet only accepts $each.
func compilePush(op Operator, v document.Value) (*pushSpec, error) {
	spec := &pushSpec{set: op == OpAddToSet}

	mods, ok := v.AsDocument()
	if !ok || !mods.Has("$each") {
		spec.each = []document.Value{v}
		return spec, nil
	}

	for _, k := range mods.Keys() {
		arg, _ := mods.Get(k)
		switch {
		case k == "$each":
			items, ok := arg.AsArray()
			if !ok {
				return nil, fmt.Errorf("%w: $each needs an array", document.ErrValidation)
			}
			spec.each = items
		case spec.set:
			return nil, fmt.Errorf("%w: $addToSet does not support %s", document.ErrValidation, k)
		case k == "$position" || k == "$slice":
			n, ok := asInteger(arg)
			if !ok {
				return nil, fmt.Errorf("%w: %s needs an integer", document.ErrValidation, k)
			}
			i := int(n)
			if k == "$position" {
				spec.position = &i
			} else {
				spec.slice = &i
			}
		case k == "$sort":
			if err := spec.compileSort(arg); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown $push modifier %s", document.ErrValidation, k)
		}
	}
	return spec, nil
}

func (p *pushSpec) compileSort(arg document.Value) error {
	if n, ok := arg.AsNumber(); ok && (n == 1 || n == -1) {
		p.sortDir = int(n)
		return nil
	}
	doc, ok := arg.AsDocument()
	if !ok {
		return fmt.Errorf("%w: $sort needs 1, -1 or a sort document", document.ErrValidation)
	}
	spec, err := query.ParseSort(doc)
	if err != nil {
		return err
	}
	p.sortSpec = spec
	return nil
}

func (p *pushSpec) apply(doc *document.Document, path string, current document.Value) (bool, error) {
	arr, err := arrayField(current, path)
	if err != nil {
		return false, err
	}
	out := append([]document.Value(nil), arr...)

	if p.set {
		for _, v := range p.each {
			if !containsValue(out, v) {
				out = append(out, v.Clone())
			}
		}
	} else {
		out = p.insert(out)
		if err := p.sortElements(out); err != nil {
			return false, err
		}
		out = p.applySlice(out)
	}

	next := document.Array(out...)
	if !current.IsMissing() && document.Equal(current, next) {
		return false, nil
	}
	return true, doc.SetPath(path, next)
}

func (p *pushSpec) insert(arr []document.Value) []document.Value {
	pos := len(arr)
	if p.position != nil {
		pos = *p.position
		if pos < 0 {
			pos = max(len(arr)+pos, 0)
		}
		pos = min(pos, len(arr))
	}
	items := make([]document.Value, len(p.each))
	for i, v := range p.each {
		items[i] = v.Clone()
	}
	out := make([]document.Value, 0, len(arr)+len(items))
	out = append(out, arr[:pos]...)
	out = append(out, items...)
	return append(out, arr[pos:]...)
}

func (p *pushSpec) sortElements(arr []document.Value) error {
	switch {
	case p.sortDir != 0:
		sort.SliceStable(arr, func(i, j int) bool {
			return document.Compare(arr[i], arr[j])*p.sortDir < 0
		})
	case len(p.sortSpec) > 0:
		docs := make([]*document.Document, len(arr))
		for i, v := range arr {
			d, ok := v.AsDocument()
			if !ok {
				return fmt.Errorf("%w: $sort by field needs embedded documents, got %s", document.ErrTypeMismatch, v.Type)
			}
			docs[i] = d
		}
		p.sortSpec.Sort(docs)
		for i, d := range docs {
			arr[i] = document.DocValue(d)
		}
	}
	return nil
}

func (p *pushSpec) applySlice(arr []document.Value) []document.Value {
	if p.slice == nil {
		return arr
	}
	n := *p.slice
	switch {
	case n >= 0:
		return arr[:min(n, len(arr))]
	default:
		return arr[max(len(arr)+n, 0):]
	}
}

// puller decides which array elements a $pull removes.
type puller struct {
	literal document.Value
	filter  *query.Filter
	wrapped bool // filter is over {v: element}
}

// compilePull accepts a literal, an operator condition such as {$gte: 6},
// or a query on the fields of embedded documents.
func compilePull(v document.Value) (*puller, error) {
	cond, ok := v.AsDocument()
	if !ok || cond.Len() == 0 {
		return &puller{literal: v}, nil
	}

	if strings.HasPrefix(cond.Keys()[0], "$") {
		f, err := query.CompileMatch(document.D("v", v))
		if err != nil {
			return nil, err
		}
		return &puller{filter: f, wrapped: true}, nil
	}

	f, err := query.CompileMatch(cond)
	if err != nil {
		return nil, err
	}
	return &puller{filter: f}, nil
}

func (p *puller) matches(v document.Value) bool {
	switch {
	case p.filter == nil:
		return document.Equal(v, p.literal)
	case p.wrapped:
		return p.filter.Matches(document.D("v", v))
	default:
		d, ok := v.AsDocument()
		return ok && p.filter.Matches(d)
	}
}

func pullWhere(doc *document.Document, path string, current document.Value, remove func(document.Value) bool) (bool, error) {
	if current.IsMissing() {
		return false, nil
	}
	arr, err := arrayField(current, path)
	if err != nil {
		return false, err
	}
	out := make([]document.Value, 0, len(arr))
	for _, v := range arr {
		if !remove(v) {
			out = append(out, v)
		}
	}
	if len(out) == len(arr) {
		return false, nil
	}
	return true, doc.SetPath(path, document.Array(out...))
}

func applyPop(doc *document.Document, path string, current, dir document.Value) (bool, error) {
	if current.IsMissing() {
		return false, nil
	}
	arr, err := arrayField(current, path)
	if err != nil {
		return false, err
	}
	if len(arr) == 0 {
		return false, nil
	}
	if n, _ := dir.AsNumber(); n < 0 {
		arr = arr[1:]
	} else {
		arr = arr[:len(arr)-1]
	}
	return true, doc.SetPath(path, document.Array(append([]document.Value(nil), arr...)...))
}

// arrayField returns the elements of an array field; missing fields are
// empty.
func arrayField(current document.Value, path string) ([]document.Value, error) {
	if current.IsMissing() {
		return nil, nil
	}
	arr, ok := current.AsArray()
	if !ok {
		return nil, fmt.Errorf("%w: field %q is a %s, not an array", document.ErrTypeMismatch, path, current.Type)
	}
	return arr, nil
}

func containsValue(arr []document.Value, v document.Value) bool {
	for _, item := range arr {
		if document.Equal(item, v) {
			return true
		}
	}
	return false
}
