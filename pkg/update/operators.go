package update

import (
	"fmt"
	"math"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// apply runs one operator on doc in place and reports whether it changed
// anything.
func (f fieldOp) apply(doc *document.Document) (bool, error) {
	current, exists := doc.Lookup(f.path)

	switch f.op {
	case OpSet, OpSetOnInsert:
		return setIfChanged(doc, f.path, current, f.value)

	case OpUnset:
		if !exists {
			return false, nil
		}
		doc.UnsetPath(f.path)
		return true, nil

	case OpInc, OpIncr:
		base, err := numericField(current, f.op)
		if err != nil {
			return false, err
		}
		delta, _ := f.value.AsNumber()
		return setIfChanged(doc, f.path, current, document.Number(base+delta))

	case OpMul:
		base, err := numericField(current, f.op)
		if err != nil {
			return false, err
		}
		factor, _ := f.value.AsNumber()
		return setIfChanged(doc, f.path, current, document.Number(base*factor))

	case OpMin, OpMax:
		if exists {
			c := document.Compare(f.value, current)
			if (f.op == OpMin && c >= 0) || (f.op == OpMax && c <= 0) {
				return false, nil
			}
		}
		return setIfChanged(doc, f.path, current, f.value)

	case OpRename:
		if !exists {
			return false, nil
		}
		doc.UnsetPath(f.path)
		if err := doc.SetPath(f.to, current); err != nil {
			return false, err
		}
		return true, nil

	case OpCurrentDate:
		return setIfChanged(doc, f.path, current, currentDate(f.value))

	case OpBit:
		return applyBit(doc, f.path, current, f.value)

	case OpPush, OpAddToSet:
		return f.push.apply(doc, f.path, current)

	case OpPull:
		return pullWhere(doc, f.path, current, f.pull.matches)

	case OpPullAll:
		items, _ := f.value.AsArray()
		return pullWhere(doc, f.path, current, func(v document.Value) bool {
			for _, item := range items {
				if document.Equal(v, item) {
					return true
				}
			}
			return false
		})

	case OpPop:
		return applyPop(doc, f.path, current, f.value)
	}
	return false, fmt.Errorf("%w: unsupported operator %s", document.ErrValidation, f.op)
}

func setIfChanged(doc *document.Document, path string, current, v document.Value) (bool, error) {
	if !current.IsMissing() && current.Type == v.Type && document.Equal(current, v) {
		return false, nil
	}
	if err := doc.SetPath(path, v.Clone()); err != nil {
		return false, err
	}
	return true, nil
}

// numericField reads the operand of an arithmetic operator. Missing fields
// count as 0.
func numericField(current document.Value, op Operator) (float64, error) {
	if current.IsMissing() {
		return 0, nil
	}
	n, ok := current.AsNumber()
	if !ok {
		return 0, fmt.Errorf("%w: cannot apply %s to a value of type %s", document.ErrTypeMismatch, op, current.Type)
	}
	return n, nil
}

// checkCurrentDate accepts true or {$type: "date"|"timestamp"}.
func checkCurrentDate(v document.Value) error {
	if b, ok := v.AsBool(); ok && b {
		return nil
	}
	if spec, ok := v.AsDocument(); ok && spec.Len() == 1 {
		t, _ := spec.Get("$type")
		if s, _ := t.AsString(); s == "date" || s == "timestamp" {
			return nil
		}
	}
	return fmt.Errorf("%w: $currentDate needs true or {$type: \"date\"|\"timestamp\"}", document.ErrValidation)
}

// currentDate returns a Date, or Unix seconds as a number for "timestamp".
func currentDate(spec document.Value) document.Value {
	t := now().UTC()
	if d, ok := spec.AsDocument(); ok {
		kind, _ := d.Get("$type")
		if s, _ := kind.AsString(); s == "timestamp" {
			return document.Int(int(t.Unix()))
		}
	}
	return document.Date(t)
}

func checkBit(v document.Value) error {
	spec, ok := v.AsDocument()
	if !ok || spec.Len() == 0 {
		return fmt.Errorf("%w: $bit needs a document of and/or/xor", document.ErrValidation)
	}
	for _, k := range spec.Keys() {
		switch k {
		case "and", "or", "xor":
		default:
			return fmt.Errorf("%w: unknown $bit operation %q", document.ErrValidation, k)
		}
		n, _ := spec.Get(k)
		if _, ok := asInteger(n); !ok {
			return fmt.Errorf("%w: $bit %s needs an integer", document.ErrValidation, k)
		}
	}
	return nil
}

func applyBit(doc *document.Document, path string, current, v document.Value) (bool, error) {
	result := int64(0)
	if !current.IsMissing() {
		n, ok := asInteger(current)
		if !ok {
			return false, fmt.Errorf("%w: $bit needs an integer field, got %s", document.ErrTypeMismatch, current.Type)
		}
		result = n
	}

	spec, _ := v.AsDocument()
	for _, k := range spec.Keys() {
		operand, _ := spec.Get(k)
		n, _ := asInteger(operand)
		switch k {
		case "and":
			result &= n
		case "or":
			result |= n
		case "xor":
			result ^= n
		}
	}
	return setIfChanged(doc, path, current, document.Number(float64(result)))
}

func asInteger(v document.Value) (int64, bool) {
	f, ok := v.AsNumber()
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}
