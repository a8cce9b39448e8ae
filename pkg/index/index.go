package index

import (
	"fmt"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// DefaultOrder is the B+ tree order used by NewIndex.
const DefaultOrder = 32

// Indexer is implemented by every index kind a collection maintains.
// Implementations do no locking of their own beyond the tree's; the owning
// collection serializes writes.
type Indexer interface {
	Spec() Spec
	Insert(rid uint64, doc *document.Document) error
	Remove(rid uint64, doc *document.Document)
	Clear()
	Stats() Stats
}

// Index is an ordered index over one or more fields, backed by a B+ tree of
// (composite key, record id) entries.
type Index struct {
	spec  Spec
	kinds []KeyKind
	paths []string
	btree *BTree[entry, uint64]

	keyCounts map[string]int    // composite key hash -> entries
	owners    map[string]uint64 // unique indexes: key hash -> owning record
}

// NewIndex creates an empty ordered index. spec must not be geospatial.
func NewIndex(spec Spec) *Index {
	idx := &Index{
		spec:      spec,
		paths:     spec.Paths(),
		keyCounts: make(map[string]int),
	}
	for _, k := range spec.Keys {
		idx.kinds = append(idx.kinds, k.Kind)
	}
	idx.btree = NewBTree[entry, uint64](DefaultOrder, idx.compareEntries)
	if spec.Unique {
		idx.owners = make(map[string]uint64)
	}
	return idx
}

func (idx *Index) compareEntries(a, b entry) int {
	if c := a.key.Compare(b.key, idx.kinds); c != 0 {
		return c
	}
	switch {
	case a.rid < b.rid:
		return -1
	case a.rid > b.rid:
		return 1
	}
	return 0
}

// Spec returns the index description.
func (idx *Index) Spec() Spec { return idx.spec }

// Name returns the index name
func (idx *Index) Name() string { return idx.spec.Name }

// Insert adds every key of doc under rid. For unique indexes the insert is
// rejected with ErrDuplicateKey, leaving the index unchanged, when another
// record already holds one of the keys.
func (idx *Index) Insert(rid uint64, doc *document.Document) error {
	keys := extractKeys(doc, idx.paths)

	if idx.owners != nil {
		for _, k := range keys {
			if owner, ok := idx.owners[k.Hash()]; ok && owner != rid {
				return fmt.Errorf("%w: index %s dup key %s", ErrDuplicateKey, idx.spec.Name, k)
			}
		}
	}

	for _, k := range keys {
		if err := idx.btree.Insert(entry{key: k, rid: rid}, rid); err != nil {
			continue // the same record already holds this key
		}
		h := k.Hash()
		idx.keyCounts[h]++
		if idx.owners != nil {
			idx.owners[h] = rid
		}
	}
	return nil
}

// Remove deletes the keys doc contributed under rid.
func (idx *Index) Remove(rid uint64, doc *document.Document) {
	for _, k := range extractKeys(doc, idx.paths) {
		if err := idx.btree.Delete(entry{key: k, rid: rid}); err != nil {
			continue
		}
		h := k.Hash()
		if idx.keyCounts[h]--; idx.keyCounts[h] <= 0 {
			delete(idx.keyCounts, h)
		}
		if idx.owners != nil && idx.owners[h] == rid {
			delete(idx.owners, h)
		}
	}
}

// Clear drops every entry.
func (idx *Index) Clear() {
	idx.btree.Clear()
	idx.keyCounts = make(map[string]int)
	if idx.owners != nil {
		idx.owners = make(map[string]uint64)
	}
}

// Range bounds one field of a scan. Unset sides are open.
type Range struct {
	Lower, Upper                   document.Value
	HasLower, HasUpper             bool
	LowerInclusive, UpperInclusive bool
}

func (r *Range) contains(v document.Value) bool {
	if r.HasLower {
		c := document.Compare(v, r.Lower)
		if c < 0 || (c == 0 && !r.LowerInclusive) {
			return false
		}
	}
	if r.HasUpper {
		c := document.Compare(v, r.Upper)
		if c > 0 || (c == 0 && !r.UpperInclusive) {
			return false
		}
	}
	return true
}

// pastEnd reports whether v lies beyond the range in scan direction.
func (r *Range) pastEnd(v document.Value, kind KeyKind) bool {
	if kind == Descending {
		if !r.HasLower {
			return false
		}
		c := document.Compare(v, r.Lower)
		return c < 0 || (c == 0 && !r.LowerInclusive)
	}
	if !r.HasUpper {
		return false
	}
	c := document.Compare(v, r.Upper)
	return c > 0 || (c == 0 && !r.UpperInclusive)
}

// Bounds select index entries: equality on the first len(Equals) fields and
// an optional Range on the field after them.
type Bounds struct {
	Equals []document.Value
	Range  *Range
}

// ScanResult holds the record ids found by a scan, in index order and
// without duplicates.
type ScanResult struct {
	IDs          []uint64
	KeysExamined int
}

// Scan walks the entries selected by b.
func (idx *Index) Scan(b Bounds) (ScanResult, error) {
	p := len(b.Equals)
	if p > len(idx.kinds) || (b.Range != nil && p >= len(idx.kinds)) {
		return ScanResult{}, fmt.Errorf("%w: bounds do not fit index %s", document.ErrValidation, idx.spec.Name)
	}

	startVals := append([]document.Value{}, b.Equals...)
	if r := b.Range; r != nil {
		if idx.kinds[p] == Descending && r.HasUpper {
			startVals = append(startVals, r.Upper)
		} else if idx.kinds[p] != Descending && r.HasLower {
			startVals = append(startVals, r.Lower)
		}
	}
	var start *entry
	if len(startVals) > 0 {
		start = &entry{key: CompositeKey{Values: startVals}}
	}

	var res ScanResult
	seen := make(map[uint64]bool)
	idx.btree.Ascend(start, func(e entry, rid uint64) bool {
		res.KeysExamined++
		if !e.key.MatchesPrefix(b.Equals) {
			return false
		}
		if r := b.Range; r != nil {
			v := e.key.Values[p]
			if r.pastEnd(v, idx.kinds[p]) {
				return false
			}
			if !r.contains(v) {
				return true
			}
		}
		if !seen[rid] {
			seen[rid] = true
			res.IDs = append(res.IDs, rid)
		}
		return true
	})
	return res, nil
}

// Stats summarizes an index.
type Stats struct {
	Entries    int
	UniqueKeys int
	Height     int
}

// Selectivity estimates how selective the index is (0.0 to 1.0); higher
// means fewer entries per key.
func (s Stats) Selectivity() float64 {
	if s.Entries == 0 {
		return 1.0
	}
	return float64(s.UniqueKeys) / float64(s.Entries)
}

// Stats returns current index statistics.
func (idx *Index) Stats() Stats {
	return Stats{
		Entries:    idx.btree.Size(),
		UniqueKeys: len(idx.keyCounts),
		Height:     idx.btree.Height(),
	}
}

// New creates the index kind described by spec.
func New(spec Spec) Indexer {
	if spec.IsGeo() {
		return NewGeoIndex(spec)
	}
	return NewIndex(spec)
}
