package document

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Type represents the data type of a value. The byte values follow the BSON
// element type codes so the binary codec can write them unchanged.
type Type byte

const (
	TypeMissing  Type = 0x00 // absent field, never stored
	TypeNumber   Type = 0x01
	TypeString   Type = 0x02
	TypeDocument Type = 0x03
	TypeArray    Type = 0x04
	TypeObjectID Type = 0x07
	TypeBoolean  Type = 0x08
	TypeDate     Type = 0x09
	TypeNull     Type = 0x0A
	TypeRegex    Type = 0x0B
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeMissing:
		return "missing"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObjectID:
		return "objectId"
	case TypeArray:
		return "array"
	case TypeDocument:
		return "document"
	case TypeDate:
		return "date"
	case TypeRegex:
		return "regex"
	default:
		return "unknown"
	}
}

// Value represents a typed value in a document.
//
// Data holds, by Type: nil (Missing, Null), bool, float64, string,
// *Document, []Value, ObjectID, time.Time or *Regex. The zero Value is
// Missing.
type Value struct {
	Type Type
	Data interface{}
}

// Regex is a regular expression literal used in filters.
type Regex struct {
	Pattern string
	Options string
}

// Compile translates the pattern and its options into a Go regexp.
// Supported options are i, m and s.
func (r *Regex) Compile() (*regexp.Regexp, error) {
	var flags strings.Builder
	for _, o := range r.Options {
		switch o {
		case 'i', 'm', 's':
			flags.WriteRune(o)
		default:
			return nil, fmt.Errorf("%w: unsupported regex option %q", ErrValidation, o)
		}
	}
	pattern := r.Pattern
	if flags.Len() > 0 {
		pattern = "(?" + flags.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid regex %q: %v", ErrValidation, r.Pattern, err)
	}
	return re, nil
}

func (r *Regex) String() string {
	return "/" + r.Pattern + "/" + r.Options
}

// Missing returns the absent value.
func Missing() Value { return Value{} }

// Null returns the null value.
func Null() Value { return Value{Type: TypeNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{Type: TypeBoolean, Data: b} }

// Number wraps a float64.
func Number(f float64) Value { return Value{Type: TypeNumber, Data: f} }

// Int wraps an integer as a Number.
func Int(i int) Value { return Value{Type: TypeNumber, Data: float64(i)} }

// String wraps a string.
func String(s string) Value { return Value{Type: TypeString, Data: s} }

// Date wraps an instant. Dates hold millisecond precision, the resolution
// of the BSON encoding.
func Date(t time.Time) Value {
	return Value{Type: TypeDate, Data: time.UnixMilli(t.UnixMilli()).In(t.Location())}
}

// OID wraps an ObjectID.
func OID(id ObjectID) Value { return Value{Type: TypeObjectID, Data: id} }

// Array wraps a list of values.
func Array(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Data: values}
}

// DocValue wraps an embedded document.
func DocValue(d *Document) Value {
	if d == nil {
		return Null()
	}
	return Value{Type: TypeDocument, Data: d}
}

// RegexValue wraps a regular expression literal.
func RegexValue(pattern, options string) Value {
	return Value{Type: TypeRegex, Data: &Regex{Pattern: pattern, Options: options}}
}

// NewValue creates a typed value from a Go value. Integers and floats of any
// width become Numbers; maps and slices are converted recursively. Map keys
// are sorted because Go maps carry no order. Unsupported types become Null.
func NewValue(data interface{}) Value {
	switch v := data.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case *Value:
		if v == nil {
			return Null()
		}
		return *v
	case bool:
		return Bool(v)
	case int:
		return Number(float64(v))
	case int8:
		return Number(float64(v))
	case int16:
		return Number(float64(v))
	case int32:
		return Number(float64(v))
	case int64:
		return Number(float64(v))
	case uint:
		return Number(float64(v))
	case uint8:
		return Number(float64(v))
	case uint16:
		return Number(float64(v))
	case uint32:
		return Number(float64(v))
	case uint64:
		return Number(float64(v))
	case float32:
		return Number(float64(v))
	case float64:
		return Number(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return String(v.String())
		}
		return Number(f)
	case string:
		return String(v)
	case time.Time:
		return Date(v)
	case ObjectID:
		return OID(v)
	case *Regex:
		return Value{Type: TypeRegex, Data: v}
	case Regex:
		return Value{Type: TypeRegex, Data: &v}
	case *regexp.Regexp:
		return RegexValue(v.String(), "")
	case *Document:
		return DocValue(v)
	case map[string]interface{}:
		return DocValue(NewDocumentFromMap(v))
	case []Value:
		return Array(v...)
	case []interface{}:
		arr := make([]Value, len(v))
		for i, item := range v {
			arr[i] = NewValue(item)
		}
		return Array(arr...)
	case []string:
		arr := make([]Value, len(v))
		for i, item := range v {
			arr[i] = String(item)
		}
		return Array(arr...)
	case []int:
		arr := make([]Value, len(v))
		for i, item := range v {
			arr[i] = Int(item)
		}
		return Array(arr...)
	case []float64:
		arr := make([]Value, len(v))
		for i, item := range v {
			arr[i] = Number(item)
		}
		return Array(arr...)
	case []*Document:
		arr := make([]Value, len(v))
		for i, item := range v {
			arr[i] = DocValue(item)
		}
		return Array(arr...)
	case []map[string]interface{}:
		arr := make([]Value, len(v))
		for i, item := range v {
			arr[i] = DocValue(NewDocumentFromMap(item))
		}
		return Array(arr...)
	default:
		return Null()
	}
}

// IsMissing reports whether the value is absent.
func (v Value) IsMissing() bool { return v.Type == TypeMissing }

// IsNull reports whether the value is null or absent.
func (v Value) IsNull() bool { return v.Type == TypeNull || v.Type == TypeMissing }

// IsNumber reports whether the value is a Number.
func (v Value) IsNumber() bool { return v.Type == TypeNumber }

// AsNumber returns the float64 held by a Number.
func (v Value) AsNumber() (float64, bool) {
	f, ok := v.Data.(float64)
	return f, ok && v.Type == TypeNumber
}

// AsString returns the string held by a String.
func (v Value) AsString() (string, bool) {
	s, ok := v.Data.(string)
	return s, ok && v.Type == TypeString
}

// AsBool returns the bool held by a Boolean.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.Data.(bool)
	return b, ok && v.Type == TypeBoolean
}

// AsDocument returns the embedded document.
func (v Value) AsDocument() (*Document, bool) {
	d, ok := v.Data.(*Document)
	return d, ok && v.Type == TypeDocument
}

// AsArray returns the elements of an Array.
func (v Value) AsArray() ([]Value, bool) {
	a, ok := v.Data.([]Value)
	return a, ok && v.Type == TypeArray
}

// AsTime returns the instant held by a Date.
func (v Value) AsTime() (time.Time, bool) {
	t, ok := v.Data.(time.Time)
	return t, ok && v.Type == TypeDate
}

// AsObjectID returns the id held by an ObjectID value.
func (v Value) AsObjectID() (ObjectID, bool) {
	id, ok := v.Data.(ObjectID)
	return id, ok && v.Type == TypeObjectID
}

// AsRegex returns the regular expression literal.
func (v Value) AsRegex() (*Regex, bool) {
	r, ok := v.Data.(*Regex)
	return r, ok && v.Type == TypeRegex
}

// Truthy follows aggregation semantics: false, null, missing and 0 are false.
func (v Value) Truthy() bool {
	switch v.Type {
	case TypeMissing, TypeNull:
		return false
	case TypeBoolean:
		return v.Data.(bool)
	case TypeNumber:
		return v.Data.(float64) != 0
	default:
		return true
	}
}

// Interface converts the value back to plain Go types: documents become
// map[string]interface{}, arrays []interface{}.
func (v Value) Interface() interface{} {
	switch v.Type {
	case TypeMissing, TypeNull:
		return nil
	case TypeDocument:
		return v.Data.(*Document).ToMap()
	case TypeArray:
		arr := v.Data.([]Value)
		out := make([]interface{}, len(arr))
		for i, item := range arr {
			out[i] = item.Interface()
		}
		return out
	default:
		return v.Data
	}
}

// Clone returns a deep copy of composite values.
func (v Value) Clone() Value {
	switch v.Type {
	case TypeDocument:
		return DocValue(v.Data.(*Document).Clone())
	case TypeArray:
		arr := v.Data.([]Value)
		out := make([]Value, len(arr))
		for i, item := range arr {
			out[i] = item.Clone()
		}
		return Array(out...)
	default:
		return v
	}
}

// String renders the value in a shell-like notation.
func (v Value) String() string {
	var b strings.Builder
	v.write(&b)
	return b.String()
}

func (v Value) write(b *strings.Builder) {
	switch v.Type {
	case TypeMissing:
		b.WriteString("<missing>")
	case TypeNull:
		b.WriteString("null")
	case TypeBoolean:
		b.WriteString(strconv.FormatBool(v.Data.(bool)))
	case TypeNumber:
		b.WriteString(formatNumber(v.Data.(float64)))
	case TypeString:
		b.WriteString(strconv.Quote(v.Data.(string)))
	case TypeDate:
		b.WriteString("ISODate(" + strconv.Quote(v.Data.(time.Time).UTC().Format(time.RFC3339Nano)) + ")")
	case TypeObjectID:
		b.WriteString("ObjectId(" + strconv.Quote(v.Data.(ObjectID).Hex()) + ")")
	case TypeRegex:
		b.WriteString(v.Data.(*Regex).String())
	case TypeArray:
		b.WriteByte('[')
		for i, item := range v.Data.([]Value) {
			if i > 0 {
				b.WriteString(", ")
			}
			item.write(b)
		}
		b.WriteByte(']')
	case TypeDocument:
		v.Data.(*Document).write(b)
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
