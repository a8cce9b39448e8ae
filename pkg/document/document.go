package document

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Document represents a schema-less record: ordered key-value pairs.
//
// Documents handed out by a collection are shared, immutable versions. Code
// that needs to change one works on a Clone.
type Document struct {
	fields map[string]Value
	order  []string // Maintain insertion order
}

// NewDocument creates a new empty document
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]Value),
		order:  make([]string, 0),
	}
}

// NewDocumentFromMap creates a document from a map. Keys are added in sorted
// order so the result is deterministic.
func NewDocumentFromMap(m map[string]interface{}) *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := NewDocument()
	for _, k := range keys {
		doc.Set(k, m[k])
	}
	return doc
}

// D builds a document from alternating keys and values, keeping their order:
//
//	document.D("status", "A", "age", document.D("$gt", 25))
//
// It panics on an odd argument count or a non-string key.
func D(pairs ...interface{}) *Document {
	if len(pairs)%2 != 0 {
		panic("document.D: odd number of arguments")
	}
	doc := NewDocument()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("document.D: key %v is not a string", pairs[i]))
		}
		doc.Set(key, pairs[i+1])
	}
	return doc
}

// A builds an array value from Go values.
func A(items ...interface{}) Value {
	arr := make([]Value, len(items))
	for i, item := range items {
		arr[i] = NewValue(item)
	}
	return Array(arr...)
}

// Set sets a field value in the document. Missing values delete the field.
func (d *Document) Set(key string, value interface{}) {
	v := NewValue(value)
	if v.IsMissing() {
		d.Delete(key)
		return
	}
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = v
}

// Get retrieves a top-level field value
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Has checks if a field exists in the document
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Delete removes a field from the document
func (d *Document) Delete(key string) {
	if _, ok := d.fields[key]; !ok {
		return
	}

	delete(d.fields, key)

	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns all field names in insertion order
func (d *Document) Keys() []string {
	keys := make([]string, len(d.order))
	copy(keys, d.order)
	return keys
}

// Len returns the number of fields in the document
func (d *Document) Len() int {
	return len(d.order)
}

// ToMap converts the document to a map[string]interface{}
func (d *Document) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		m[k] = v.Interface()
	}
	return m
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	clone := &Document{
		fields: make(map[string]Value, len(d.fields)),
		order:  make([]string, len(d.order)),
	}
	copy(clone.order, d.order)
	for k, v := range d.fields {
		clone.fields[k] = v.Clone()
	}
	return clone
}

// Equal reports whether two documents hold the same fields in the same order
// with equal values.
func (d *Document) Equal(other *Document) bool {
	return compareDocuments(d, other) == 0
}

// String returns a shell-like representation of the document
func (d *Document) String() string {
	var b strings.Builder
	d.write(&b)
	return b.String()
}

func (d *Document) write(b *strings.Builder) {
	b.WriteByte('{')
	for i, k := range d.order {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Quote(k))
		b.WriteString(": ")
		d.fields[k].write(b)
	}
	b.WriteByte('}')
}
