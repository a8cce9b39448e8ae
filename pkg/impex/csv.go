package impex

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// CSVExporter exports documents to CSV format
type CSVExporter struct {
	Fields []string // Field paths to export (empty = all top-level fields)
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(fields []string) *CSVExporter {
	return &CSVExporter{Fields: fields}
}

// Export writes a header row followed by one row per document. Embedded
// documents and arrays are written as extended JSON.
func (e *CSVExporter) Export(writer io.Writer, docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}

	fields := e.Fields
	if len(fields) == 0 {
		fields = topLevelFields(docs)
	}

	csvWriter := csv.NewWriter(writer)
	if err := csvWriter.Write(fields); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, doc := range docs {
		row := make([]string, len(fields))
		for i, field := range fields {
			v, _ := doc.Lookup(field)
			row[i] = formatCell(v)
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// topLevelFields returns the union of the documents' fields, _id first and
// the rest sorted.
func topLevelFields(docs []*document.Document) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, doc := range docs {
		for _, k := range doc.Keys() {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	slices.SortFunc(fields, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == "_id":
			return -1
		case b == "_id":
			return 1
		}
		return strings.Compare(a, b)
	})
	return fields
}

func formatCell(v document.Value) string {
	switch v.Type {
	case document.TypeMissing, document.TypeNull:
		return ""
	case document.TypeString:
		s, _ := v.AsString()
		return s
	case document.TypeNumber:
		f, _ := v.AsNumber()
		return strconv.FormatFloat(f, 'f', -1, 64)
	case document.TypeBoolean:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case document.TypeObjectID:
		id, _ := v.AsObjectID()
		return id.Hex()
	case document.TypeDate:
		t, _ := v.AsTime()
		return t.UTC().Format(DateLayout)
	default:
		return string(Marshal(v))
	}
}

// CSVImporter imports documents from CSV format
type CSVImporter struct {
	Headers []string // Column headers (if not in first row)
}

// NewCSVImporter creates a new CSV importer
func NewCSVImporter(headers []string) *CSVImporter {
	return &CSVImporter{Headers: headers}
}

// Import reads one document per row. Dotted headers build embedded
// documents and empty cells are left out.
func (i *CSVImporter) Import(reader io.Reader) ([]*document.Document, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	headers := i.Headers
	if len(headers) == 0 {
		var err error
		headers, err = csvReader.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV header: %w", err)
		}
	}
	for _, h := range headers {
		if err := document.ValidatePath(h); err != nil {
			return nil, fmt.Errorf("CSV header %q: %w", h, err)
		}
	}

	docs := make([]*document.Document, 0)
	for rowNum := 1; ; rowNum++ {
		row, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", rowNum, err)
		}

		doc := document.NewDocument()
		for idx, header := range headers {
			if idx >= len(row) || row[idx] == "" {
				continue
			}
			if err := doc.SetPath(header, parseCell(row[idx])); err != nil {
				return nil, fmt.Errorf("failed to parse CSV row %d: %w", rowNum, err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// parseCell guesses the type of a cell: boolean, number, extended JSON,
// ObjectID, RFC 3339 timestamp, and finally string.
func parseCell(cell string) document.Value {
	if cell == "true" || cell == "false" {
		return document.Bool(cell == "true")
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return document.Number(f)
	}
	if strings.HasPrefix(cell, "[") || strings.HasPrefix(cell, "{") {
		if v, err := Parse([]byte(cell)); err == nil {
			return v
		}
	}
	if len(cell) == 24 {
		if oid, err := document.ObjectIDFromHex(cell); err == nil {
			return document.OID(oid)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, cell); err == nil {
		return document.Date(t)
	}
	return document.String(cell)
}
