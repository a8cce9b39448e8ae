package index

import (
	"fmt"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// KeyKind is the kind of one indexed field.
type KeyKind int

const (
	Ascending KeyKind = iota
	Descending
	Sphere2D // "2dsphere"
	Planar2D // "2d"
)

// String returns the value used for the kind in an index key document.
func (k KeyKind) String() string {
	switch k {
	case Descending:
		return "-1"
	case Sphere2D:
		return "2dsphere"
	case Planar2D:
		return "2d"
	default:
		return "1"
	}
}

// IsGeo reports whether the kind is spatial.
func (k KeyKind) IsGeo() bool { return k == Sphere2D || k == Planar2D }

// KeyField is one field of an index key pattern.
type KeyField struct {
	Path string
	Kind KeyKind
}

// Spec describes an index.
type Spec struct {
	Name   string
	Keys   []KeyField
	Unique bool
}

// Options are the optional createIndex settings.
type Options struct {
	Name   string
	Unique bool
}

// ParseSpec reads a key pattern such as {user_id: 1, age: -1} or
// {location: "2dsphere"}. Without an explicit name one is derived from the
// pattern, e.g. "user_id_1_age_-1".
func ParseSpec(keys *document.Document, opts Options) (Spec, error) {
	if keys == nil || keys.Len() == 0 {
		return Spec{}, fmt.Errorf("%w: index key pattern must not be empty", document.ErrValidation)
	}

	spec := Spec{Name: opts.Name, Unique: opts.Unique}
	var geoFields int
	for _, path := range keys.Keys() {
		if err := document.ValidatePath(path); err != nil {
			return Spec{}, err
		}
		v, _ := keys.Get(path)
		kind, err := parseKind(v)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: field %q", err, path)
		}
		if kind.IsGeo() {
			geoFields++
		}
		spec.Keys = append(spec.Keys, KeyField{Path: path, Kind: kind})
	}

	if geoFields > 0 && len(spec.Keys) > 1 {
		return Spec{}, fmt.Errorf("%w: geospatial index must have a single field", document.ErrValidation)
	}
	if geoFields > 0 && spec.Unique {
		return Spec{}, fmt.Errorf("%w: geospatial index cannot be unique", document.ErrValidation)
	}
	if spec.Name == "" {
		spec.Name = spec.DefaultName()
	}
	return spec, nil
}

func parseKind(v document.Value) (KeyKind, error) {
	if f, ok := v.AsNumber(); ok {
		switch {
		case f > 0:
			return Ascending, nil
		case f < 0:
			return Descending, nil
		}
	}
	if s, ok := v.AsString(); ok {
		switch s {
		case "2dsphere":
			return Sphere2D, nil
		case "2d":
			return Planar2D, nil
		}
	}
	return 0, fmt.Errorf("%w: invalid index key kind %v", document.ErrValidation, v)
}

// DefaultName derives the conventional index name from the key pattern.
func (s Spec) DefaultName() string {
	parts := make([]string, 0, 2*len(s.Keys))
	for _, k := range s.Keys {
		parts = append(parts, k.Path, k.Kind.String())
	}
	return strings.Join(parts, "_")
}

// Paths returns the indexed field paths in key order.
func (s Spec) Paths() []string {
	paths := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		paths[i] = k.Path
	}
	return paths
}

// IsGeo reports whether the spec describes a spatial index.
func (s Spec) IsGeo() bool {
	return len(s.Keys) == 1 && s.Keys[0].Kind.IsGeo()
}

// KeyDocument renders the key pattern back to document form.
func (s Spec) KeyDocument() *document.Document {
	doc := document.NewDocument()
	for _, k := range s.Keys {
		switch k.Kind {
		case Ascending:
			doc.Set(k.Path, 1)
		case Descending:
			doc.Set(k.Path, -1)
		default:
			doc.Set(k.Path, k.Kind.String())
		}
	}
	return doc
}

// Document renders the spec as listIndexes does.
func (s Spec) Document() *document.Document {
	doc := document.D("name", s.Name, "key", s.KeyDocument())
	if s.Unique {
		doc.Set("unique", true)
	}
	return doc
}

// Touches reports whether modifying path may change this index's keys:
// true when path equals an indexed path or one is a prefix of the other.
func (s Spec) Touches(path string) bool {
	for _, k := range s.Keys {
		if pathsOverlap(k.Path, path) {
			return true
		}
	}
	return false
}

func pathsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return strings.HasPrefix(b, a) && b[len(a)] == '.'
}
