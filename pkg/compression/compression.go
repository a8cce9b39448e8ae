// Package compression compresses encoded documents for persistence.
package compression

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm represents a compression algorithm. Its value is written as the
// first byte of every frame.
type Algorithm byte

const (
	// AlgorithmNone stores payloads as they are
	AlgorithmNone Algorithm = iota
	// AlgorithmSnappy is fast compression with a moderate ratio
	AlgorithmSnappy
	// AlgorithmZstd is balanced compression with good speed and ratio (default)
	AlgorithmZstd
)

// String returns the string representation of the algorithm
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", byte(a))
	}
}

// ParseAlgorithm reads an algorithm name as written in configuration.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none":
		return AlgorithmNone, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd", "":
		return AlgorithmZstd, nil
	}
	return 0, fmt.Errorf("unknown compression algorithm %q", s)
}

// Config holds compression configuration
type Config struct {
	Algorithm Algorithm
	Level     int // zstd only: 1 fastest, 2 default, 3 better, 4 best
}

// DefaultConfig returns zstd at its default level.
func DefaultConfig() *Config {
	return &Config{Algorithm: AlgorithmZstd, Level: 2}
}

// Compressor compresses payloads with one algorithm and writes them as
// frames: [1-byte algorithm][compressed payload].
type Compressor struct {
	config  *Config
	zstdEnc *zstd.Encoder
}

// NewCompressor creates a new compressor with the given configuration
func NewCompressor(config *Config) (*Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Compressor{config: config}

	switch config.Algorithm {
	case AlgorithmNone, AlgorithmSnappy:
	case AlgorithmZstd:
		level := config.Level
		if level < int(zstd.SpeedFastest) || level > int(zstd.SpeedBestCompression) {
			level = int(zstd.SpeedDefault)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.zstdEnc = enc
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %v", config.Algorithm)
	}
	return c, nil
}

// Algorithm returns the algorithm frames are written with.
func (c *Compressor) Algorithm() Algorithm {
	return c.config.Algorithm
}

// Compress returns data as a frame.
func (c *Compressor) Compress(data []byte) []byte {
	frame := []byte{byte(c.config.Algorithm)}
	switch c.config.Algorithm {
	case AlgorithmSnappy:
		return append(frame, snappy.Encode(nil, data)...)
	case AlgorithmZstd:
		return c.zstdEnc.EncodeAll(data, frame)
	default:
		return append(frame, data...)
	}
}

// Close releases the encoder.
func (c *Compressor) Close() error {
	if c.zstdEnc != nil {
		return c.zstdEnc.Close()
	}
	return nil
}

var (
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
	zstdDecErr  error
)

func decoder() (*zstd.Decoder, error) {
	zstdDecOnce.Do(func() {
		zstdDec, zstdDecErr = zstd.NewReader(nil)
	})
	return zstdDec, zstdDecErr
}

// Decompress reads a frame written by any Compressor; the algorithm comes
// from the frame header.
func Decompress(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty compressed frame")
	}
	payload := frame[1:]
	switch alg := Algorithm(frame[0]); alg {
	case AlgorithmNone:
		return payload, nil
	case AlgorithmSnappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snappy: %w", err)
		}
		return decoded, nil
	case AlgorithmZstd:
		dec, err := decoder()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		decoded, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %v", alg)
	}
}

// CompressionRatio calculates the compression ratio
func CompressionRatio(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(compressedSize) / float64(originalSize)
}
