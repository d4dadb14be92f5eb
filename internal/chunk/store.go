// Package chunk stores one spilled buffer per file.
//
// File layout (little endian):
//
//	magic    [4]byte "FQCK"
//	version  uint8
//	codec    uint8   compression code, see compression.Type.Code
//	count    uint32  number of items in the chunk
//	checksum uint64  xxhash64 of payload
//	payload  []byte  compressed codec blob
package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/szibis/filequeue/internal/chunkid"
	"github.com/szibis/filequeue/internal/codec"
	"github.com/szibis/filequeue/internal/compression"
	"github.com/szibis/filequeue/internal/fsutil"
)

const (
	headerSize    = 4 + 1 + 1 + 4 + 8
	formatVersion = 1
)

var magic = [4]byte{'F', 'Q', 'C', 'K'}

// ErrCorrupt is returned when a chunk is missing or cannot be decoded.
var ErrCorrupt = errors.New("corrupt chunk")

// CorruptError describes a chunk that could not be served. It matches
// ErrCorrupt with errors.Is.
type CorruptError struct {
	ID string
	// Count is the item count from the chunk header, or -1 if the header
	// itself was unreadable.
	Count int
	Err   error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrCorrupt, e.ID, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Store reads and writes chunk files inside one buffer directory.
type Store[T any] struct {
	fs          fsutil.FS
	dir         string
	codec       codec.Codec[T]
	compression compression.Type
	ids         chunkid.Source
}

// NewStore returns a Store writing into dir.
func NewStore[T any](fsys fsutil.FS, dir string, c codec.Codec[T], comp compression.Type, ids chunkid.Source) *Store[T] {
	return &Store[T]{
		fs:          fsys,
		dir:         dir,
		codec:       c,
		compression: comp,
		ids:         ids,
	}
}

// Path returns the file location of chunk id.
func (s *Store[T]) Path(id string) string {
	return filepath.Join(s.dir, id)
}

// Write persists items as a new chunk and returns its id and the number of
// bytes written.
func (s *Store[T]) Write(items []T) (string, int, error) {
	blob, err := s.codec.Encode(items)
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode chunk: %w", err)
	}
	payload, err := compression.Compress(blob, s.compression)
	if err != nil {
		return "", 0, fmt.Errorf("failed to compress chunk: %w", err)
	}

	id, err := s.ids.Next()
	if err != nil {
		return "", 0, err
	}

	buf := make([]byte, headerSize, headerSize+len(payload))
	copy(buf[0:4], magic[:])
	buf[4] = formatVersion
	buf[5] = s.compression.Code()
	binary.LittleEndian.PutUint32(buf[6:10], uint32(len(items)))
	binary.LittleEndian.PutUint64(buf[10:18], xxhash.Sum64(payload))
	buf = append(buf, payload...)

	if err := s.fs.WriteFile(s.Path(id), buf); err != nil {
		return "", 0, fmt.Errorf("failed to write chunk %s: %w", id, err)
	}
	return id, len(buf), nil
}

// Read loads chunk id and deletes its file. A chunk that cannot be decoded
// is deleted as well and reported as a *CorruptError.
func (s *Store[T]) Read(id string) ([]T, error) {
	path := s.Path(id)
	data, err := s.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &CorruptError{ID: id, Count: -1, Err: errors.New("file missing")}
		}
		return nil, fmt.Errorf("failed to read chunk %s: %w", id, err)
	}

	items, count, err := s.decode(data)
	if err != nil {
		if rmErr := s.fs.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("remove: %w", rmErr))
		}
		return nil, &CorruptError{ID: id, Count: count, Err: err}
	}

	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove chunk %s: %w", id, err)
	}
	return items, nil
}

// Remove deletes chunk id without reading it.
func (s *Store[T]) Remove(id string) error {
	if err := s.fs.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// decode returns the items and the header count. The count is -1 when the
// header cannot be trusted.
func (s *Store[T]) decode(data []byte) ([]T, int, error) {
	if len(data) < headerSize {
		return nil, -1, fmt.Errorf("short header: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return nil, -1, errors.New("bad magic")
	}
	if data[4] != formatVersion {
		return nil, -1, fmt.Errorf("unsupported format version %d", data[4])
	}
	count := int(binary.LittleEndian.Uint32(data[6:10]))
	comp, err := compression.FromCode(data[5])
	if err != nil {
		return nil, count, err
	}
	sum := binary.LittleEndian.Uint64(data[10:18])

	payload := data[headerSize:]
	if xxhash.Sum64(payload) != sum {
		return nil, count, errors.New("checksum mismatch")
	}

	blob, err := compression.Decompress(payload, comp)
	if err != nil {
		return nil, count, fmt.Errorf("decompress: %w", err)
	}
	items, err := s.codec.Decode(blob)
	if err != nil {
		return nil, count, fmt.Errorf("decode: %w", err)
	}
	if len(items) != count {
		return nil, count, fmt.Errorf("item count %d, header says %d", len(items), count)
	}
	return items, count, nil
}
