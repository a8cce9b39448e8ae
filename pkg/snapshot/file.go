package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mnohosten/laura-engine/pkg/compression"
	"github.com/mnohosten/laura-engine/pkg/database"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// FileName is the snapshot file inside the data directory.
const FileName = "laura.snapshot"

// magic starts every snapshot file.
var magic = []byte("LAURASNP")

// FilePersister keeps the database in one file: a magic header followed by
// the snapshot document, BSON encoded and compressed. Files are replaced
// atomically, so a crash mid-save leaves the previous snapshot in place.
// Dates are stored in milliseconds, the precision document.Date keeps.
type FilePersister struct {
	path   string
	codec  *compression.CompressedDocument
	logger *zap.Logger
	now    func() time.Time
}

var _ database.Persister = (*FilePersister)(nil)

// NewFilePersister creates the data directory if needed. A nil config uses
// zstd at its default level.
func NewFilePersister(dir string, cfg *compression.Config, logger *zap.Logger) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	codec, err := compression.NewCompressedDocument(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilePersister{
		path:   filepath.Join(dir, FileName),
		codec:  codec,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Path returns the snapshot file path.
func (p *FilePersister) Path() string {
	return p.path
}

// Load reads the snapshot file. A missing file is an empty snapshot.
func (p *FilePersister) Load(ctx context.Context) (*database.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		p.logger.Info("no snapshot found, starting empty", zap.String("path", p.path))
		return &database.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", p.path, err)
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: %s is not a snapshot file", ErrCorrupt, p.path)
	}

	doc, err := p.codec.Decode(data[len(magic):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	snap, err := FromDocument(doc)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("snapshot read",
		zap.String("path", p.path),
		zap.Int("bytes", len(data)),
		zap.Int("collections", len(snap.Collections)))
	return snap, nil
}

// Persist writes snap, replacing the previous file.
func (p *FilePersister) Persist(ctx context.Context, snap *database.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := p.codec.Encode(ToDocument(snap, p.now()))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	buf := make([]byte, 0, len(magic)+len(payload))
	buf = append(buf, magic...)
	buf = append(buf, payload...)
	if err := atomic.WriteFile(p.path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", p.path, err)
	}
	p.logger.Debug("snapshot written", zap.String("path", p.path), zap.Int("bytes", len(buf)))
	return nil
}

// Close releases the compressor.
func (p *FilePersister) Close() error {
	return p.codec.Close()
}
