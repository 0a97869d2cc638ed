/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package compression provides configurable compression for archived FIX
message segments.

Compression Overview:
=====================

internal/archive writes position-indexed segments of the replicated FIX
stream to disk; this package compresses those segments (and, for a
Leader refilling its outbound publication, decompresses them again)
before they hit the transport in internal/transport.

Supported Algorithms:
=====================

1. LZ4: Fast compression/decompression, moderate ratio
2. Snappy: Very fast, lower ratio, good for real-time archival
3. Zstd: Best ratio, configurable speed/ratio tradeoff
4. Gzip: Standard-library fallback when no third-party codec is wanted

Batch Compression:
==================

Batching multiple entries before compression improves ratios:
1. Collect entries into a batch
2. Compress the entire batch
3. Store/transmit compressed batch
4. Decompress and split on read
*/
package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmGzip
	AlgorithmLZ4
	AlgorithmSnappy
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses a compression algorithm from string
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "gzip":
		return AlgorithmGzip, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %s", s)
	}
}

// Level represents compression level
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 5
	LevelBest    Level = 9
)

// Config holds compression configuration
type Config struct {
	Algorithm        Algorithm `json:"algorithm"`
	Level            Level     `json:"level"`
	MinSize          int       `json:"min_size"`          // Minimum size to compress
	BatchSize        int       `json:"batch_size"`        // Number of entries per batch
	BatchTimeout     int       `json:"batch_timeout_ms"`  // Max wait time for batch (ms)
	DictionaryEnable bool      `json:"dictionary_enable"` // Use dictionary compression
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Algorithm:        AlgorithmZstd,
		Level:            LevelDefault,
		MinSize:          256,
		BatchSize:        100,
		BatchTimeout:     10,
		DictionaryEnable: false,
	}
}

// Errors
var (
	ErrDataTooSmall    = errors.New("data too small to compress")
	ErrInvalidHeader   = errors.New("invalid compression header")
	ErrUnsupportedAlgo = errors.New("unsupported compression algorithm")
	ErrDecompressFailed = errors.New("decompression failed")
)

// Compressor provides compression/decompression operations for single
// archive segments.
type Compressor struct {
	config     Config
	gzipPool   sync.Pool
	bufferPool sync.Pool
}

// NewCompressor creates a new compressor
func NewCompressor(config Config) *Compressor {
	return &Compressor{
		config: config,
		gzipPool: sync.Pool{
			New: func() interface{} {
				return gzip.NewWriter(nil)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Compress compresses data with the compressor's configured algorithm.
// Data shorter than config.MinSize is not compressed: it is framed with
// the AlgorithmNone tag, which Decompress strips again.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) < c.config.MinSize {
		return c.frame(AlgorithmNone, data), nil
	}
	return c.compressWith(c.config.Algorithm, data)
}

func (c *Compressor) compressWith(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return c.frame(AlgorithmNone, data), nil

	case AlgorithmGzip:
		buf := c.bufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer c.bufferPool.Put(buf)

		w, _ := gzip.NewWriterLevel(buf, int(c.levelFor(algo)))
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		out := make([]byte, buf.Len())
		copy(out, buf.Bytes())
		return c.frame(AlgorithmGzip, out), nil

	case AlgorithmLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if err := w.Apply(lz4.CompressionLevelOption(lz4Level(c.levelFor(algo)))); err != nil {
			return nil, fmt.Errorf("lz4 options: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}
		return c.frame(AlgorithmLZ4, buf.Bytes()), nil

	case AlgorithmSnappy:
		return c.frame(AlgorithmSnappy, snappy.Encode(nil, data)), nil

	case AlgorithmZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(c.levelFor(algo))))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		defer enc.Close()
		return c.frame(AlgorithmZstd, enc.EncodeAll(data, nil)), nil

	default:
		return nil, ErrUnsupportedAlgo
	}
}

func (c *Compressor) levelFor(algo Algorithm) Level {
	if c.config.Level > 0 {
		return c.config.Level
	}
	return LevelDefault
}

// lz4Level maps the generic 1-9 Level onto lz4's own CompressionLevel
// constants, which are not a plain integer scale.
func lz4Level(l Level) lz4.CompressionLevel {
	switch {
	case l <= LevelFastest:
		return lz4.Fast
	case l >= LevelBest:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l <= LevelFastest:
		return zstd.SpeedFastest
	case l >= LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// frame prepends a 1-byte algorithm tag so Decompress is self-describing.
func (c *Compressor) frame(algo Algorithm, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(algo)
	copy(out[1:], payload)
	return out
}

// Decompress reverses Compress. algo is accepted for API symmetry with
// the batch helpers but the wire framing is self-describing, so a
// mismatched algo only affects error messages, not correctness.
func (c *Compressor) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidHeader
	}
	tag := Algorithm(data[0])
	payload := data[1:]

	switch tag {
	case AlgorithmNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case AlgorithmLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case AlgorithmSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case AlgorithmZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	default:
		return nil, ErrUnsupportedAlgo
	}
}

// BatchCompressor accumulates small entries (e.g. individual FIX
// fragments) and compresses them together so the archive gets a better
// ratio than compressing each fragment alone.
type BatchCompressor struct {
	compressor *Compressor
	entries    [][]byte
}

// NewBatchCompressor creates a new batch compressor.
func NewBatchCompressor(config Config) *BatchCompressor {
	return &BatchCompressor{compressor: NewCompressor(config)}
}

// Add appends an entry to the pending batch.
func (b *BatchCompressor) Add(entry []byte) {
	cp := make([]byte, len(entry))
	copy(cp, entry)
	b.entries = append(b.entries, cp)
}

// Flush encodes the pending batch as length-prefixed entries and
// compresses the result, clearing the batch.
func (b *BatchCompressor) Flush() ([]byte, error) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	for _, e := range b.entries {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(e)))
		buf.Write(lenBuf)
		buf.Write(e)
	}
	b.entries = b.entries[:0]
	return b.compressor.Compress(buf.Bytes())
}

// DecompressBatch reverses Flush, splitting the decompressed payload
// back into individual entries.
func (b *BatchCompressor) DecompressBatch(data []byte, algo Algorithm) ([][]byte, error) {
	raw, err := b.compressor.Decompress(data, algo)
	if err != nil {
		return nil, err
	}

	var entries [][]byte
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, ErrInvalidHeader
		}
		n := binary.BigEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, ErrInvalidHeader
		}
		entries = append(entries, raw[:n])
		raw = raw[n:]
	}
	return entries, nil
}
