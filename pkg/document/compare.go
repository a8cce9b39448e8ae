package document

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"
)

// TypeRank returns the position of a type in the cross-type sort order:
// null < number < string < document < array < objectId < bool < date < regex.
// Missing ranks with null.
func TypeRank(t Type) int {
	switch t {
	case TypeMissing, TypeNull:
		return 1
	case TypeNumber:
		return 2
	case TypeString:
		return 3
	case TypeDocument:
		return 4
	case TypeArray:
		return 5
	case TypeObjectID:
		return 6
	case TypeBoolean:
		return 7
	case TypeDate:
		return 8
	case TypeRegex:
		return 9
	default:
		return 10
	}
}

// Compare orders two values: -1 if a < b, 0 if equal, 1 if a > b.
// Values of different types order by TypeRank.
func Compare(a, b Value) int {
	ra, rb := TypeRank(a.Type), TypeRank(b.Type)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch a.Type {
	case TypeMissing, TypeNull:
		return 0
	case TypeNumber:
		return compareFloats(a.Data.(float64), b.Data.(float64))
	case TypeString:
		return strings.Compare(a.Data.(string), b.Data.(string))
	case TypeDocument:
		return compareDocuments(a.Data.(*Document), b.Data.(*Document))
	case TypeArray:
		return compareArrays(a.Data.([]Value), b.Data.([]Value))
	case TypeObjectID:
		ida, idb := a.Data.(ObjectID), b.Data.(ObjectID)
		return bytes.Compare(ida[:], idb[:])
	case TypeBoolean:
		ba, bb := a.Data.(bool), b.Data.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case TypeDate:
		return a.Data.(time.Time).Compare(b.Data.(time.Time))
	case TypeRegex:
		xa, xb := a.Data.(*Regex), b.Data.(*Regex)
		if c := strings.Compare(xa.Pattern, xb.Pattern); c != 0 {
			return c
		}
		return strings.Compare(xa.Options, xb.Options)
	}
	return 0
}

// Equal reports whether two values compare equal.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// NaN sorts before every other number and equals itself.
func compareFloats(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareDocuments(a, b *Document) int {
	n := min(len(a.order), len(b.order))
	for i := 0; i < n; i++ {
		ka, kb := a.order[i], b.order[i]
		if c := strings.Compare(ka, kb); c != 0 {
			return c
		}
		if c := Compare(a.fields[ka], b.fields[kb]); c != 0 {
			return c
		}
	}
	return compareInts(len(a.order), len(b.order))
}

func compareArrays(a, b []Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInts(len(a), len(b))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// KeyString returns a canonical encoding of v such that two values have the
// same key exactly when Equal reports them equal. It is used as a map key for
// grouping, set semantics and identity lookup.
func KeyString(v Value) string {
	var b strings.Builder
	writeKey(&b, v)
	return b.String()
}

func writeKey(b *strings.Builder, v Value) {
	b.WriteByte(byte('0' + TypeRank(v.Type)))
	switch v.Type {
	case TypeNumber:
		f := v.Data.(float64)
		if f == 0 {
			f = 0 // folds -0
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	case TypeString:
		b.WriteString(strconv.Quote(v.Data.(string)))
	case TypeDocument:
		doc := v.Data.(*Document)
		b.WriteByte('{')
		for _, k := range doc.order {
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeKey(b, doc.fields[k])
			b.WriteByte(',')
		}
		b.WriteByte('}')
	case TypeArray:
		b.WriteByte('[')
		for _, item := range v.Data.([]Value) {
			writeKey(b, item)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case TypeObjectID:
		b.WriteString(v.Data.(ObjectID).Hex())
	case TypeBoolean:
		b.WriteString(strconv.FormatBool(v.Data.(bool)))
	case TypeDate:
		b.WriteString(strconv.FormatInt(v.Data.(time.Time).UnixNano(), 10))
	case TypeRegex:
		re := v.Data.(*Regex)
		b.WriteString(strconv.Quote(re.Pattern))
		b.WriteString(strconv.Quote(re.Options))
	}
}
