package index

import (
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// CompositeKey represents a key composed of multiple field values
// Used for compound indexes on multiple fields
type CompositeKey struct {
	Values []document.Value // Field values in order
}

// NewCompositeKey creates a new composite key from multiple values
func NewCompositeKey(values ...document.Value) CompositeKey {
	return CompositeKey{Values: values}
}

// Compare compares two composite keys field by field, reversing fields whose
// kind is Descending. A key that is a strict prefix of the other sorts first.
func (ck CompositeKey) Compare(other CompositeKey, kinds []KeyKind) int {
	n := min(len(ck.Values), len(other.Values))
	for i := 0; i < n; i++ {
		c := document.Compare(ck.Values[i], other.Values[i])
		if i < len(kinds) && kinds[i] == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}

	switch {
	case len(ck.Values) < len(other.Values):
		return -1
	case len(ck.Values) > len(other.Values):
		return 1
	}
	return 0
}

// MatchesPrefix checks if this composite key matches a prefix
// Used for queries that only specify some fields of a compound index
// Example: index on [city, age], query on city only
func (ck CompositeKey) MatchesPrefix(prefix []document.Value) bool {
	if len(prefix) > len(ck.Values) {
		return false
	}
	for i := range prefix {
		if !document.Equal(ck.Values[i], prefix[i]) {
			return false
		}
	}
	return true
}

// Hash returns a canonical string usable as a map key.
func (ck CompositeKey) Hash() string {
	parts := make([]string, len(ck.Values))
	for i, v := range ck.Values {
		parts[i] = document.KeyString(v)
	}
	return strings.Join(parts, "|")
}

// String returns a string representation of the composite key
func (ck CompositeKey) String() string {
	parts := make([]string, len(ck.Values))
	for i, v := range ck.Values {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// entry is a B+ tree key: the composite field key plus the record id, which
// makes equal field keys from different records distinct.
type entry struct {
	key CompositeKey
	rid uint64
}

// extractKeys computes every composite key a document contributes for the
// given paths. Arrays contribute one key per element (multikey); missing
// fields are indexed as null. Compound indexes get the cartesian product.
func extractKeys(doc *document.Document, paths []string) []CompositeKey {
	perField := make([][]document.Value, len(paths))
	for i, path := range paths {
		perField[i] = fieldKeys(doc, path)
	}

	keys := []CompositeKey{{}}
	for _, vals := range perField {
		next := make([]CompositeKey, 0, len(keys)*len(vals))
		for _, prefix := range keys {
			for _, v := range vals {
				values := make([]document.Value, len(prefix.Values), len(prefix.Values)+1)
				copy(values, prefix.Values)
				next = append(next, CompositeKey{Values: append(values, v)})
			}
		}
		keys = next
	}
	return keys
}

func fieldKeys(doc *document.Document, path string) []document.Value {
	resolved := doc.Resolve(path)
	if len(resolved) == 0 {
		return []document.Value{document.Null()}
	}

	seen := make(map[string]bool)
	var out []document.Value
	add := func(v document.Value) {
		k := document.KeyString(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	for _, v := range resolved {
		arr, ok := v.AsArray()
		if !ok || len(arr) == 0 {
			add(v)
			continue
		}
		for _, elem := range arr {
			add(elem)
		}
	}
	return out
}
