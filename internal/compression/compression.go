// Package compression compresses and decompresses chunk payloads.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type string

const (
	// TypeNone stores payloads as-is.
	TypeNone Type = "none"
	// TypeSnappy uses block snappy.
	TypeSnappy Type = "snappy"
	// TypeS2 uses klauspost s2 blocks (faster snappy successor).
	TypeS2 Type = "s2"
	// TypeZstd uses zstd.
	TypeZstd Type = "zstd"
	// TypeLZ4 uses the lz4 frame format.
	TypeLZ4 Type = "lz4"
	// TypeGzip uses gzip.
	TypeGzip Type = "gzip"
)

// codes are stable on-disk identifiers; never renumber.
var codes = map[Type]byte{
	TypeNone:   0,
	TypeSnappy: 1,
	TypeS2:     2,
	TypeZstd:   3,
	TypeLZ4:    4,
	TypeGzip:   5,
}

// ParseType parses a compression type string.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "snappy":
		return TypeSnappy, nil
	case "s2":
		return TypeS2, nil
	case "zstd":
		return TypeZstd, nil
	case "lz4":
		return TypeLZ4, nil
	case "gzip":
		return TypeGzip, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// Code returns the one-byte on-disk identifier of t.
func (t Type) Code() byte {
	return codes[t]
}

// FromCode maps an on-disk identifier back to its Type.
func FromCode(c byte) (Type, error) {
	for t, code := range codes {
		if code == c {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown compression code: %d", c)
}

// zstd encoders/decoders are expensive to build and safe for concurrent
// EncodeAll/DecodeAll, so one of each is shared.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Compress compresses data with t.
func Compress(data []byte, t Type) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch t {
	case TypeNone, "":
		out = data
	case TypeSnappy:
		out = snappy.Encode(nil, data)
	case TypeS2:
		out = s2.Encode(nil, data)
	case TypeZstd:
		enc, _, zerr := zstdCodecs()
		if zerr != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", zerr)
		}
		out = enc.EncodeAll(data, nil)
	case TypeLZ4:
		out, err = compressLZ4(data)
	case TypeGzip:
		out, err = compressGzip(data)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
	if err != nil {
		return nil, err
	}
	recordCompress(t, len(data), len(out))
	return out, nil
}

// Decompress reverses Compress.
func Decompress(data []byte, t Type) ([]byte, error) {
	switch t {
	case TypeNone, "":
		return data, nil
	case TypeSnappy:
		return snappy.Decode(nil, data)
	case TypeS2:
		return s2.Decode(nil, data)
	case TypeZstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return dec.DecodeAll(data, nil)
	case TypeLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case TypeGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	lw := lz4.NewWriter(&buf)
	if _, err := lw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write lz4 data: %w", err)
	}
	if err := lw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}
	return buf.Bytes(), nil
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
