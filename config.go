package filequeue

import (
	"fmt"
	"path/filepath"

	"github.com/szibis/filequeue/internal/codec"
	"github.com/szibis/filequeue/internal/compression"
	"github.com/szibis/filequeue/internal/fsutil"
)

// DefaultCapacity is the incoming buffer threshold used when Config.Capacity is zero.
const DefaultCapacity = 100000

// Config holds the Queue construction parameters.
type Config struct {
	// Dir is the buffer directory for chunk files and the index record.
	// Empty means <os.TempDir()>/goFileQueue.
	Dir string `yaml:"dir"`
	// Capacity is the number of items the incoming buffer holds before it
	// is swapped or spilled.
	Capacity int `yaml:"capacity"`
	// PersistOnClose keeps queued items on disk at Close for a later Open.
	PersistOnClose bool `yaml:"persist_on_close"`
	// Codec names the item codec: "json" (default), "gob" or "proto".
	// Ignored when WithCodec is given; "proto" requires WithCodec.
	Codec string `yaml:"codec"`
	// Compression applied to chunk payloads: none, snappy (default), s2,
	// zstd, lz4 or gzip.
	Compression string `yaml:"compression"`
	// SyncWrites fsyncs chunk and index files before returning.
	SyncWrites bool `yaml:"sync_writes"`
	// Name labels this queue's metrics and log lines. Defaults to the base
	// name of Dir.
	Name string `yaml:"name"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Dir == "" {
		c.Dir = fsutil.DefaultDir()
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Codec == "" {
		c.Codec = codec.NameJSON
	}
	if c.Compression == "" {
		c.Compression = string(compression.TypeSnappy)
	}
	if c.Name == "" {
		c.Name = filepath.Base(c.Dir)
	}
	return c
}

// Validate reports configuration errors. Zero values are valid and replaced
// by defaults in Open.
func (c Config) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if _, err := compression.ParseType(c.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !codec.Known(c.Codec) {
		return fmt.Errorf("%w: unsupported codec: %s", ErrInvalidConfig, c.Codec)
	}
	return nil
}
