// Package snapshot persists database snapshots to a single file.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/mnohosten/laura-engine/pkg/database"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/index"
)

// FormatVersion is the version of the snapshot document layout.
const FormatVersion = 1

// ErrCorrupt is returned for snapshot files that cannot be read back.
var ErrCorrupt = errors.New("corrupt snapshot")

// ToDocument lays a snapshot out as one document:
//
//	{version, savedAt, collections: [{name, indexes: [{name, key, unique}], documents: [...]}]}
func ToDocument(snap *database.Snapshot, savedAt time.Time) *document.Document {
	colls := make([]document.Value, 0, len(snap.Collections))
	for _, cs := range snap.Collections {
		specs := make([]document.Value, len(cs.Indexes))
		for i, spec := range cs.Indexes {
			specs[i] = document.DocValue(spec.Document())
		}
		docs := make([]document.Value, len(cs.Documents))
		for i, doc := range cs.Documents {
			docs[i] = document.DocValue(doc)
		}
		colls = append(colls, document.DocValue(document.D(
			"name", cs.Name,
			"indexes", document.Array(specs...),
			"documents", document.Array(docs...),
		)))
	}
	return document.D(
		"version", FormatVersion,
		"savedAt", savedAt.UTC(),
		"collections", document.Array(colls...),
	)
}

// FromDocument reverses ToDocument.
func FromDocument(doc *document.Document) (*database.Snapshot, error) {
	version, _ := doc.Get("version")
	if v, ok := version.AsNumber(); !ok || v != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %v", ErrCorrupt, version)
	}

	collections, ok := arrayField(doc, "collections")
	if !ok {
		return nil, fmt.Errorf("%w: missing collections", ErrCorrupt)
	}
	snap := &database.Snapshot{}
	for i, cv := range collections {
		cdoc, ok := cv.AsDocument()
		if !ok {
			return nil, fmt.Errorf("%w: collection %d is not a document", ErrCorrupt, i)
		}
		nameVal, _ := cdoc.Get("name")
		name, ok := nameVal.AsString()
		if !ok {
			return nil, fmt.Errorf("%w: collection %d has no name", ErrCorrupt, i)
		}
		cs := database.CollectionSnapshot{Name: name}

		specs, _ := arrayField(cdoc, "indexes")
		for _, sv := range specs {
			spec, err := parseSpec(sv)
			if err != nil {
				return nil, fmt.Errorf("%w: collection %s: %v", ErrCorrupt, name, err)
			}
			cs.Indexes = append(cs.Indexes, spec)
		}

		docs, _ := arrayField(cdoc, "documents")
		cs.Documents = make([]*document.Document, 0, len(docs))
		for j, dv := range docs {
			d, ok := dv.AsDocument()
			if !ok {
				return nil, fmt.Errorf("%w: collection %s document %d is a %s", ErrCorrupt, name, j, dv.Type)
			}
			cs.Documents = append(cs.Documents, d)
		}
		snap.Collections = append(snap.Collections, cs)
	}
	return snap, nil
}

func arrayField(doc *document.Document, key string) ([]document.Value, bool) {
	v, _ := doc.Get(key)
	return v.AsArray()
}

func parseSpec(v document.Value) (index.Spec, error) {
	doc, ok := v.AsDocument()
	if !ok {
		return index.Spec{}, fmt.Errorf("index spec is a %s", v.Type)
	}
	nameVal, _ := doc.Get("name")
	keyVal, _ := doc.Get("key")
	uniqueVal, _ := doc.Get("unique")

	name, _ := nameVal.AsString()
	keys, ok := keyVal.AsDocument()
	if !ok {
		return index.Spec{}, fmt.Errorf("index %q has no key pattern", name)
	}
	unique, _ := uniqueVal.AsBool()
	return index.ParseSpec(keys, index.Options{Name: name, Unique: unique})
}
