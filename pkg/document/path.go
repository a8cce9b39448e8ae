package document

import (
	"fmt"
	"strconv"
	"strings"
)

// SplitPath splits a dotted field path into its segments.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// ValidatePath rejects empty paths and empty segments ("a..b").
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty field path", ErrValidation)
	}
	for _, seg := range SplitPath(path) {
		if seg == "" {
			return fmt.Errorf("%w: invalid field path %q", ErrValidation, path)
		}
	}
	return nil
}

// Lookup resolves a dotted path to a single value. When a segment meets an
// array, a numeric segment indexes it; otherwise the rest of the path is
// mapped over the elements and the results are collected into an array.
func (d *Document) Lookup(path string) (Value, bool) {
	v := lookupValue(DocValue(d), SplitPath(path))
	return v, !v.IsMissing()
}

func lookupValue(v Value, segs []string) Value {
	if len(segs) == 0 {
		return v
	}
	switch v.Type {
	case TypeDocument:
		child, ok := v.Data.(*Document).Get(segs[0])
		if !ok {
			return Missing()
		}
		return lookupValue(child, segs[1:])
	case TypeArray:
		arr := v.Data.([]Value)
		if idx, err := strconv.Atoi(segs[0]); err == nil && idx >= 0 {
			if idx >= len(arr) {
				return Missing()
			}
			return lookupValue(arr[idx], segs[1:])
		}
		out := make([]Value, 0, len(arr))
		for _, elem := range arr {
			if r := lookupValue(elem, segs); !r.IsMissing() {
				out = append(out, r)
			}
		}
		return Array(out...)
	default:
		return Missing()
	}
}

// Resolve returns every value reachable by path, descending implicitly into
// arrays of embedded documents. A terminal array is returned as one value;
// matching against its elements is up to the caller. No values means the
// path does not exist.
func (d *Document) Resolve(path string) []Value {
	return resolveValue(DocValue(d), SplitPath(path), nil)
}

func resolveValue(v Value, segs []string, out []Value) []Value {
	if len(segs) == 0 {
		return append(out, v)
	}
	switch v.Type {
	case TypeDocument:
		if child, ok := v.Data.(*Document).Get(segs[0]); ok {
			out = resolveValue(child, segs[1:], out)
		}
	case TypeArray:
		arr := v.Data.([]Value)
		if idx, err := strconv.Atoi(segs[0]); err == nil && idx >= 0 && idx < len(arr) {
			out = resolveValue(arr[idx], segs[1:], out)
		}
		for _, elem := range arr {
			if elem.Type == TypeDocument {
				out = resolveValue(elem, segs, out)
			}
		}
	}
	return out
}

// SetPath sets the value at a dotted path, creating intermediate documents
// as needed. Numeric segments index into arrays, padding with nulls.
// Traversing a scalar fails with ErrTypeMismatch. The document is modified in
// place.
func (d *Document) SetPath(path string, v Value) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if v.IsMissing() {
		d.UnsetPath(path)
		return nil
	}
	_, err := setValue(DocValue(d), SplitPath(path), v, path)
	return err
}

func setValue(cur Value, segs []string, v Value, path string) (Value, error) {
	if len(segs) == 0 {
		return v, nil
	}
	switch cur.Type {
	case TypeMissing:
		nested := NewDocument()
		child, err := setValue(Missing(), segs[1:], v, path)
		if err != nil {
			return cur, err
		}
		nested.Set(segs[0], child)
		return DocValue(nested), nil
	case TypeDocument:
		doc := cur.Data.(*Document)
		existing, _ := doc.Get(segs[0])
		child, err := setValue(existing, segs[1:], v, path)
		if err != nil {
			return cur, err
		}
		doc.Set(segs[0], child)
		return cur, nil
	case TypeArray:
		idx, err := strconv.Atoi(segs[0])
		if err != nil || idx < 0 {
			return cur, fmt.Errorf("%w: cannot create field %q in array at %q", ErrTypeMismatch, segs[0], path)
		}
		arr := cur.Data.([]Value)
		for len(arr) <= idx {
			arr = append(arr, Null())
		}
		child, err := setValue(arr[idx], segs[1:], v, path)
		if err != nil {
			return cur, err
		}
		arr[idx] = child
		return Array(arr...), nil
	default:
		return cur, fmt.Errorf("%w: cannot create field %q in element of type %s at %q", ErrTypeMismatch, segs[0], cur.Type, path)
	}
}

// UnsetPath removes the value at a dotted path. Unsetting an array element
// by index replaces it with null. Nonexistent paths are ignored.
func (d *Document) UnsetPath(path string) {
	unsetValue(DocValue(d), SplitPath(path))
}

func unsetValue(cur Value, segs []string) {
	switch cur.Type {
	case TypeDocument:
		doc := cur.Data.(*Document)
		if len(segs) == 1 {
			doc.Delete(segs[0])
			return
		}
		if child, ok := doc.Get(segs[0]); ok {
			unsetValue(child, segs[1:])
		}
	case TypeArray:
		arr := cur.Data.([]Value)
		idx, err := strconv.Atoi(segs[0])
		if err != nil || idx < 0 || idx >= len(arr) {
			return
		}
		if len(segs) == 1 {
			arr[idx] = Null()
			return
		}
		unsetValue(arr[idx], segs[1:])
	}
}

// With returns a new version of doc with path set to v. doc is unchanged.
func With(doc *Document, path string, v Value) (*Document, error) {
	next := doc.Clone()
	if err := next.SetPath(path, v); err != nil {
		return nil, err
	}
	return next, nil
}

// Without returns a new version of doc with path removed. doc is unchanged.
func Without(doc *Document, path string) *Document {
	next := doc.Clone()
	next.UnsetPath(path)
	return next
}
