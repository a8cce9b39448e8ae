package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// Encoder encodes documents to BSON format
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder creates a new BSON encoder
func NewEncoder() *Encoder {
	return &Encoder{
		buf: new(bytes.Buffer),
	}
}

// Encode encodes a document to BSON format. The returned slice is only valid
// until the next call.
// BSON format: [4-byte size][elements...][0x00 terminator]
// Element format: [1-byte type][cstring key][value]
func (e *Encoder) Encode(doc *Document) ([]byte, error) {
	e.buf.Reset()
	if err := e.writeDocument(doc); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

func (e *Encoder) writeDocument(doc *Document) error {
	start := e.buf.Len()
	e.buf.Write([]byte{0, 0, 0, 0})

	for _, key := range doc.order {
		if err := e.encodeElement(key, doc.fields[key]); err != nil {
			return fmt.Errorf("failed to encode field %s: %w", key, err)
		}
	}
	e.buf.WriteByte(0x00)

	data := e.buf.Bytes()
	binary.LittleEndian.PutUint32(data[start:], uint32(len(data)-start))
	return nil
}

// encodeElement encodes a single document element
func (e *Encoder) encodeElement(key string, value Value) error {
	e.buf.WriteByte(byte(value.Type))
	e.writeCString(key)

	var scratch [8]byte
	switch value.Type {
	case TypeNull:
		// No data for null
	case TypeBoolean:
		if value.Data.(bool) {
			e.buf.WriteByte(0x01)
		} else {
			e.buf.WriteByte(0x00)
		}
	case TypeNumber:
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(value.Data.(float64)))
		e.buf.Write(scratch[:])
	case TypeString:
		str := value.Data.(string)
		// String: [4-byte length including null][string bytes][0x00]
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(str)+1))
		e.buf.Write(scratch[:4])
		e.buf.WriteString(str)
		e.buf.WriteByte(0x00)
	case TypeObjectID:
		id := value.Data.(ObjectID)
		e.buf.Write(id[:])
	case TypeDate:
		binary.LittleEndian.PutUint64(scratch[:], uint64(value.Data.(time.Time).UnixMilli()))
		e.buf.Write(scratch[:])
	case TypeRegex:
		re := value.Data.(*Regex)
		e.writeCString(re.Pattern)
		e.writeCString(re.Options)
	case TypeArray:
		// Array is encoded as a document with numeric keys
		arrDoc := NewDocument()
		for i, item := range value.Data.([]Value) {
			arrDoc.Set(strconv.Itoa(i), item)
		}
		return e.writeDocument(arrDoc)
	case TypeDocument:
		return e.writeDocument(value.Data.(*Document))
	default:
		return fmt.Errorf("unsupported type: %v", value.Type)
	}

	return nil
}

func (e *Encoder) writeCString(s string) {
	e.buf.WriteString(s)
	e.buf.WriteByte(0x00)
}

// Decoder decodes BSON data to documents
type Decoder struct {
	reader *bytes.Reader
}

// NewDecoder creates a new BSON decoder
func NewDecoder(data []byte) *Decoder {
	return &Decoder{
		reader: bytes.NewReader(data),
	}
}

// Decode decodes BSON data to a document
func (d *Decoder) Decode() (*Document, error) {
	doc := NewDocument()

	var size int32
	if err := binary.Read(d.reader, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("failed to read document size: %w", err)
	}

	for {
		typeByte, err := d.reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read element type: %w", err)
		}
		if typeByte == 0x00 {
			break
		}

		key, err := d.readCString()
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}

		value, err := d.decodeValue(Type(typeByte))
		if err != nil {
			return nil, fmt.Errorf("failed to decode value for key %s: %w", key, err)
		}

		doc.Set(key, value)
	}

	return doc, nil
}

// readCString reads a null-terminated string
func (d *Decoder) readCString() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := d.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0x00 {
			break
		}
		buf.WriteByte(b)
	}
	return buf.String(), nil
}

// decodeValue decodes a value based on its type
func (d *Decoder) decodeValue(t Type) (Value, error) {
	switch t {
	case TypeNull:
		return Null(), nil
	case TypeBoolean:
		b, err := d.reader.ReadByte()
		return Bool(b != 0x00), err
	case TypeNumber:
		var bits uint64
		err := binary.Read(d.reader, binary.LittleEndian, &bits)
		return Number(math.Float64frombits(bits)), err
	case TypeString:
		var length int32
		if err := binary.Read(d.reader, binary.LittleEndian, &length); err != nil {
			return Value{}, err
		}
		if length < 1 {
			return Value{}, fmt.Errorf("invalid string length %d", length)
		}
		strBytes := make([]byte, length)
		if _, err := io.ReadFull(d.reader, strBytes); err != nil {
			return Value{}, err
		}
		return String(string(strBytes[:length-1])), nil
	case TypeObjectID:
		var id ObjectID
		if _, err := io.ReadFull(d.reader, id[:]); err != nil {
			return Value{}, err
		}
		return OID(id), nil
	case TypeDate:
		var ms int64
		err := binary.Read(d.reader, binary.LittleEndian, &ms)
		return Date(time.UnixMilli(ms).UTC()), err
	case TypeRegex:
		pattern, err := d.readCString()
		if err != nil {
			return Value{}, err
		}
		options, err := d.readCString()
		if err != nil {
			return Value{}, err
		}
		return RegexValue(pattern, options), nil
	case TypeArray:
		arrDoc, err := d.decodeEmbedded()
		if err != nil {
			return Value{}, err
		}
		arr := make([]Value, arrDoc.Len())
		for i := range arr {
			v, ok := arrDoc.Get(strconv.Itoa(i))
			if !ok {
				return Value{}, fmt.Errorf("array element %d missing", i)
			}
			arr[i] = v
		}
		return Array(arr...), nil
	case TypeDocument:
		sub, err := d.decodeEmbedded()
		if err != nil {
			return Value{}, err
		}
		return DocValue(sub), nil
	default:
		return Value{}, fmt.Errorf("unsupported type: 0x%02x", byte(t))
	}
}

func (d *Decoder) decodeEmbedded() (*Document, error) {
	var sizeBytes [4]byte
	if _, err := io.ReadFull(d.reader, sizeBytes[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBytes[:])
	if size < 5 {
		return nil, fmt.Errorf("invalid embedded document size %d", size)
	}

	docBytes := make([]byte, size)
	copy(docBytes, sizeBytes[:])
	if _, err := io.ReadFull(d.reader, docBytes[4:]); err != nil {
		return nil, err
	}
	return NewDecoder(docBytes).Decode()
}
