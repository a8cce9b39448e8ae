// Package impex reads and writes documents as extended JSON.
//
// Plain JSON maps onto the document model directly. The types JSON lacks
// use single-purpose wrapper objects:
//
//	{"$oid": "65a1f0c2e4b0a1b2c3d4e5f6"}
//	{"$date": "2024-01-15T10:30:00.000Z"}   (or milliseconds since the epoch)
//	{"$regex": "^ab", "$options": "i"}
//	{"$numberDouble": "NaN"}
//
// Parsing keeps field order, and accepts comments and trailing commas.
package impex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/tailscale/hujson"
)

// DateLayout is the layout of $date strings written by Marshal.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// Parse decodes a single extended JSON value.
func Parse(data []byte) (document.Value, error) {
	root, err := hujson.Parse(data)
	if err != nil {
		return document.Value{}, fmt.Errorf("%w: %v", document.ErrValidation, err)
	}
	return convert(root.Value, "")
}

// ParseDocument decodes an extended JSON object.
func ParseDocument(data []byte) (*document.Document, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	doc, ok := v.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %s", document.ErrValidation, v.Type)
	}
	return doc, nil
}

func convert(v hujson.ValueTrimmed, path string) (document.Value, error) {
	switch t := v.(type) {
	case hujson.Literal:
		return literal(t, path)

	case *hujson.Array:
		items := make([]document.Value, len(t.Elements))
		for i, elem := range t.Elements {
			item, err := convert(elem.Value, path+"."+strconv.Itoa(i))
			if err != nil {
				return document.Value{}, err
			}
			items[i] = item
		}
		return document.Array(items...), nil

	case *hujson.Object:
		doc := document.NewDocument()
		for _, m := range t.Members {
			name, err := memberName(m.Name.Value, path)
			if err != nil {
				return document.Value{}, err
			}
			child := name
			if path != "" {
				child = path + "." + name
			}
			fv, err := convert(m.Value.Value, child)
			if err != nil {
				return document.Value{}, err
			}
			doc.Set(name, fv)
		}
		return wrapper(doc, path)
	}
	return document.Value{}, fmt.Errorf("%w: unexpected JSON value at %q", document.ErrValidation, path)
}

func memberName(v hujson.ValueTrimmed, path string) (string, error) {
	lit, ok := v.(hujson.Literal)
	if !ok {
		return "", fmt.Errorf("%w: object key at %q is not a string", document.ErrValidation, path)
	}
	var s string
	if err := json.Unmarshal(lit, &s); err != nil {
		return "", fmt.Errorf("%w: object key at %q: %v", document.ErrValidation, path, err)
	}
	return s, nil
}

func literal(lit hujson.Literal, path string) (document.Value, error) {
	switch s := string(lit); {
	case s == "null":
		return document.Null(), nil
	case s == "true":
		return document.Bool(true), nil
	case s == "false":
		return document.Bool(false), nil
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(lit, &str); err != nil {
			return document.Value{}, fmt.Errorf("%w: string at %q: %v", document.ErrValidation, path, err)
		}
		return document.String(str), nil
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return document.Value{}, fmt.Errorf("%w: number %s at %q", document.ErrValidation, s, path)
		}
		return document.Number(f), nil
	}
}

// wrapper turns the extended JSON wrapper objects into their typed values.
// Any other object is returned as an embedded document.
func wrapper(doc *document.Document, path string) (document.Value, error) {
	keys := doc.Keys()
	if len(keys) == 0 || !strings.HasPrefix(keys[0], "$") {
		return document.DocValue(doc), nil
	}

	if len(keys) == 1 {
		v, _ := doc.Get(keys[0])
		switch keys[0] {
		case "$oid":
			s, ok := v.AsString()
			if !ok {
				return document.Value{}, fmt.Errorf("%w: $oid at %q must be a string", document.ErrValidation, path)
			}
			id, err := document.ObjectIDFromHex(s)
			if err != nil {
				return document.Value{}, fmt.Errorf("%w: $oid at %q: %v", document.ErrValidation, path, err)
			}
			return document.OID(id), nil

		case "$date":
			t, err := parseDate(v)
			if err != nil {
				return document.Value{}, fmt.Errorf("%w: $date at %q: %v", document.ErrValidation, path, err)
			}
			return document.Date(t), nil

		case "$numberDouble", "$numberInt", "$numberLong":
			f, err := parseNumberString(v)
			if err != nil {
				return document.Value{}, fmt.Errorf("%w: %s at %q: %v", document.ErrValidation, keys[0], path, err)
			}
			return document.Number(f), nil
		}
	}

	if keys[0] == "$regex" && (len(keys) == 1 || (len(keys) == 2 && keys[1] == "$options")) {
		pattern, ok := doc.Get("$regex")
		p, isStr := pattern.AsString()
		if !ok || !isStr {
			// left for the query compiler
			return document.DocValue(doc), nil
		}
		var opts string
		if o, ok := doc.Get("$options"); ok {
			if opts, ok = o.AsString(); !ok {
				return document.Value{}, fmt.Errorf("%w: $options at %q must be a string", document.ErrValidation, path)
			}
		}
		re := document.RegexValue(p, opts)
		if r, _ := re.AsRegex(); r != nil {
			if _, err := r.Compile(); err != nil {
				return document.Value{}, err
			}
		}
		return re, nil
	}
	return document.DocValue(doc), nil
}

func parseDate(v document.Value) (time.Time, error) {
	switch v.Type {
	case document.TypeString:
		s, _ := v.AsString()
		return time.Parse(time.RFC3339Nano, s)
	case document.TypeNumber:
		ms, _ := v.AsNumber()
		return time.UnixMilli(int64(ms)).UTC(), nil
	case document.TypeDocument:
		inner, _ := v.AsDocument()
		n, ok := inner.Get("$numberLong")
		if !ok || inner.Len() != 1 {
			break
		}
		ms, err := parseNumberString(n)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expected an RFC 3339 string or milliseconds, got %s", v.Type)
}

func parseNumberString(v document.Value) (float64, error) {
	s, ok := v.AsString()
	if !ok {
		return 0, fmt.Errorf("expected a string, got %s", v.Type)
	}
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Marshal encodes v as compact extended JSON.
func Marshal(v document.Value) []byte {
	var buf bytes.Buffer
	w := writer{buf: &buf}
	w.value(v, 0)
	return buf.Bytes()
}

// MarshalIndent is like Marshal but puts each field and element on its own
// line, indented by indent per level.
func MarshalIndent(v document.Value, indent string) []byte {
	var buf bytes.Buffer
	w := writer{buf: &buf, indent: indent}
	w.value(v, 0)
	return buf.Bytes()
}

// MarshalDocument encodes doc as compact extended JSON.
func MarshalDocument(doc *document.Document) []byte {
	return Marshal(document.DocValue(doc))
}

type writer struct {
	buf    *bytes.Buffer
	indent string
}

func (w writer) newline(depth int) {
	if w.indent == "" {
		return
	}
	w.buf.WriteByte('\n')
	for i := 0; i < depth; i++ {
		w.buf.WriteString(w.indent)
	}
}

func (w writer) str(s string) {
	enc := json.NewEncoder(w.buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	w.buf.Truncate(w.buf.Len() - 1) // Encode appends a newline
}

func (w writer) value(v document.Value, depth int) {
	switch v.Type {
	case document.TypeMissing, document.TypeNull:
		w.buf.WriteString("null")
	case document.TypeBoolean:
		b, _ := v.AsBool()
		w.buf.WriteString(strconv.FormatBool(b))
	case document.TypeNumber:
		f, _ := v.AsNumber()
		switch {
		case math.IsNaN(f):
			w.buf.WriteString(`{"$numberDouble":"NaN"}`)
		case math.IsInf(f, 1):
			w.buf.WriteString(`{"$numberDouble":"Infinity"}`)
		case math.IsInf(f, -1):
			w.buf.WriteString(`{"$numberDouble":"-Infinity"}`)
		default:
			w.buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		}
	case document.TypeString:
		s, _ := v.AsString()
		w.str(s)
	case document.TypeObjectID:
		id, _ := v.AsObjectID()
		w.buf.WriteString(`{"$oid":"` + id.Hex() + `"}`)
	case document.TypeDate:
		t, _ := v.AsTime()
		w.buf.WriteString(`{"$date":"` + t.UTC().Format(DateLayout) + `"}`)
	case document.TypeRegex:
		r, _ := v.AsRegex()
		w.buf.WriteString(`{"$regex":`)
		w.str(r.Pattern)
		w.buf.WriteString(`,"$options":`)
		w.str(r.Options)
		w.buf.WriteByte('}')
	case document.TypeArray:
		items, _ := v.AsArray()
		if len(items) == 0 {
			w.buf.WriteString("[]")
			return
		}
		w.buf.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			w.newline(depth + 1)
			w.value(item, depth+1)
		}
		w.newline(depth)
		w.buf.WriteByte(']')
	case document.TypeDocument:
		doc, _ := v.AsDocument()
		keys := doc.Keys()
		if len(keys) == 0 {
			w.buf.WriteString("{}")
			return
		}
		w.buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			w.newline(depth + 1)
			w.str(k)
			w.buf.WriteByte(':')
			if w.indent != "" {
				w.buf.WriteByte(' ')
			}
			fv, _ := doc.Get(k)
			w.value(fv, depth+1)
		}
		w.newline(depth)
		w.buf.WriteByte('}')
	default:
		w.buf.WriteString("null")
	}
}
