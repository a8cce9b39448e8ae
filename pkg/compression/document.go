package compression

import (
	"fmt"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// CompressedDocument encodes documents to BSON and compresses them
type CompressedDocument struct {
	compressor *Compressor
}

// NewCompressedDocument creates a new compressed document handler
func NewCompressedDocument(config *Config) (*CompressedDocument, error) {
	compressor, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}
	return &CompressedDocument{compressor: compressor}, nil
}

// Encode encodes and compresses a document
func (cd *CompressedDocument) Encode(doc *document.Document) ([]byte, error) {
	bsonData, err := document.NewEncoder().Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return cd.compressor.Compress(bsonData), nil
}

// Decode decompresses and decodes a document
func (cd *CompressedDocument) Decode(data []byte) (*document.Document, error) {
	decompressed, err := Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress document: %w", err)
	}
	doc, err := document.NewDecoder(decompressed).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// Close releases the compressor.
func (cd *CompressedDocument) Close() error {
	return cd.compressor.Close()
}
