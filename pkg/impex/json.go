package impex

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// JSONExporter exports documents as extended JSON
type JSONExporter struct {
	Pretty bool // Enable pretty-printing (indentation)
	Lines  bool // One compact document per line instead of an array
}

// NewJSONExporter creates a new JSON exporter
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes documents to the writer.
func (e *JSONExporter) Export(writer io.Writer, docs []*document.Document) error {
	w := bufio.NewWriter(writer)

	if e.Lines {
		for _, doc := range docs {
			w.Write(MarshalDocument(doc))
			w.WriteByte('\n')
		}
		return flush(w)
	}

	values := make([]document.Value, len(docs))
	for i, doc := range docs {
		values[i] = document.DocValue(doc)
	}
	arr := document.Array(values...)
	if e.Pretty {
		w.Write(MarshalIndent(arr, "  "))
	} else {
		w.Write(Marshal(arr))
	}
	w.WriteByte('\n')
	return flush(w)
}

func flush(w *bufio.Writer) error {
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

// JSONImporter imports documents from extended JSON
type JSONImporter struct{}

// NewJSONImporter creates a new JSON importer
func NewJSONImporter() *JSONImporter {
	return &JSONImporter{}
}

// Import reads either a JSON array of documents or one document per line.
func (i *JSONImporter) Import(reader io.Reader) ([]*document.Document, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []*document.Document{}, nil
	}
	if trimmed[0] == '[' {
		v, err := Parse(trimmed)
		if err != nil {
			return nil, err
		}
		items, _ := v.AsArray()
		docs := make([]*document.Document, 0, len(items))
		for idx, item := range items {
			doc, ok := item.AsDocument()
			if !ok {
				return nil, fmt.Errorf("%w: element %d is a %s, not a document", document.ErrValidation, idx, item.Type)
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}

	docs := make([]*document.Document, 0)
	for n, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || bytes.HasPrefix(line, []byte("//")) {
			continue
		}
		doc, err := ParseDocument(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
