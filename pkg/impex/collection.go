package impex

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// Format represents the export/import format
type Format string

const (
	// FormatJSON is a JSON array of documents
	FormatJSON Format = "json"
	// FormatJSONLines is one JSON document per line
	FormatJSONLines Format = "jsonl"
	// FormatCSV represents CSV format
	FormatCSV Format = "csv"
)

// FormatFor picks a format from a file name's extension. Unknown extensions
// are read as JSON.
func FormatFor(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV
	case ".jsonl", ".ndjson":
		return FormatJSONLines
	}
	return FormatJSON
}

// Options tunes Export and Import.
type Options struct {
	Pretty  bool     // JSON only
	Fields  []string // CSV export columns
	Headers []string // CSV import columns when the file has no header row
}

// Export writes documents in the given format.
func Export(writer io.Writer, docs []*document.Document, format Format, opts Options) error {
	switch format {
	case FormatJSON:
		return (&JSONExporter{Pretty: opts.Pretty}).Export(writer, docs)
	case FormatJSONLines:
		return (&JSONExporter{Lines: true}).Export(writer, docs)
	case FormatCSV:
		return NewCSVExporter(opts.Fields).Export(writer, docs)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// Import reads documents in the given format.
func Import(reader io.Reader, format Format, opts Options) ([]*document.Document, error) {
	switch format {
	case FormatJSON, FormatJSONLines:
		return NewJSONImporter().Import(reader)
	case FormatCSV:
		return NewCSVImporter(opts.Headers).Import(reader)
	default:
		return nil, fmt.Errorf("unsupported import format: %s", format)
	}
}
