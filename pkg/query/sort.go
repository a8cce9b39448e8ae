package query

import (
	"fmt"
	"sort"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// SortField represents a field to sort by
type SortField struct {
	Path      string
	Ascending bool
}

// SortSpec is an ordered list of sort fields.
type SortSpec []SortField

// ParseSort reads a sort document such as {age: -1, name: 1}.
func ParseSort(doc *document.Document) (SortSpec, error) {
	if doc == nil {
		return nil, nil
	}
	spec := make(SortSpec, 0, doc.Len())
	for _, path := range doc.Keys() {
		if err := document.ValidatePath(path); err != nil {
			return nil, err
		}
		v, _ := doc.Get(path)
		n, ok := v.AsNumber()
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("%w: sort direction for %q must be 1 or -1", document.ErrValidation, path)
		}
		spec = append(spec, SortField{Path: path, Ascending: n == 1})
	}
	return spec, nil
}

// sortKey is the value a document sorts by for one field. Arrays sort by
// their smallest element ascending and their largest descending; missing
// fields sort as null.
func (f SortField) sortKey(doc *document.Document) document.Value {
	var key document.Value
	found := false
	consider := func(v document.Value) {
		if !found {
			key, found = v, true
			return
		}
		c := document.Compare(v, key)
		if (f.Ascending && c < 0) || (!f.Ascending && c > 0) {
			key = v
		}
	}

	for _, v := range doc.Resolve(f.Path) {
		if arr, ok := v.AsArray(); ok {
			for _, elem := range arr {
				consider(elem)
			}
			continue
		}
		consider(v)
	}
	if !found {
		return document.Null()
	}
	return key
}

// Sort orders docs in place. The sort is stable: documents with equal keys
// keep their input order.
func (s SortSpec) Sort(docs []*document.Document) {
	if len(s) == 0 || len(docs) < 2 {
		return
	}

	keys := make([][]document.Value, len(docs))
	for i, doc := range docs {
		keys[i] = make([]document.Value, len(s))
		for j, f := range s {
			keys[i][j] = f.sortKey(doc)
		}
	}

	idx := make([]int, len(docs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.compareKeys(keys[idx[a]], keys[idx[b]]) < 0
	})

	sorted := make([]*document.Document, len(docs))
	for i, j := range idx {
		sorted[i] = docs[j]
	}
	copy(docs, sorted)
}

func (s SortSpec) compareKeys(a, b []document.Value) int {
	for i, f := range s {
		c := document.Compare(a[i], b[i])
		if !f.Ascending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Document renders the spec back to a sort document.
func (s SortSpec) Document() *document.Document {
	doc := document.NewDocument()
	for _, f := range s {
		if f.Ascending {
			doc.Set(f.Path, 1)
		} else {
			doc.Set(f.Path, -1)
		}
	}
	return doc
}
