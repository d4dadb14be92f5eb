// Package index persists the spill index: the approximate item count and the
// ordered list of chunk ids still waiting on disk.
//
// The record is stored in protobuf wire format, equivalent to
//
//	message Index {
//	  uint32 version = 1;
//	  sint64 size = 2;
//	  repeated string chunk_ids = 3;
//	}
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/szibis/filequeue/internal/fsutil"
)

// FileName is the name of the index record inside the buffer directory.
const FileName = "info"

const (
	currentVersion = 1

	fieldVersion protowire.Number = 1
	fieldSize    protowire.Number = 2
	fieldChunk   protowire.Number = 3
)

// ErrCorrupt is returned when the index record cannot be decoded.
var ErrCorrupt = errors.New("corrupt index record")

// Record is the persisted queue state.
type Record struct {
	Size   int64
	Chunks []string
}

// Marshal encodes r.
func (r Record) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, currentVersion)
	b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Size))
	for _, id := range r.Chunks {
		b = protowire.AppendTag(b, fieldChunk, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	return b
}

// validID reports whether id names a file directly inside the buffer
// directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		filepath.Base(id) == id && !strings.ContainsAny(id, `/\`)
}

// Unmarshal decodes a record produced by Marshal. Unknown fields are skipped.
func Unmarshal(data []byte) (Record, error) {
	var (
		r       Record
		version uint64
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(data)
		case num == fieldSize && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			r.Size = protowire.DecodeZigZag(v)
		case num == fieldChunk && typ == protowire.BytesType:
			var id string
			id, n = protowire.ConsumeString(data)
			if n >= 0 && !validID(id) {
				return Record{}, fmt.Errorf("%w: invalid chunk id %q", ErrCorrupt, id)
			}
			r.Chunks = append(r.Chunks, id)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		data = data[n:]
	}

	if version != currentVersion {
		return Record{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	return r, nil
}

// Path returns the index record location for dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads the record in dir. found is false when no record exists.
func Load(fsys fsutil.FS, dir string) (rec Record, found bool, err error) {
	data, err := fsys.ReadFile(Path(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to read index: %w", err)
	}
	rec, err = Unmarshal(data)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Save writes rec into dir, replacing any previous record.
func Save(fsys fsutil.FS, dir string, rec Record) error {
	if err := fsys.WriteFile(Path(dir), rec.Marshal()); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
