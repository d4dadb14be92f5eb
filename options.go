package filequeue

import (
	"google.golang.org/protobuf/proto"

	"github.com/szibis/filequeue/internal/chunkid"
	"github.com/szibis/filequeue/internal/codec"
	"github.com/szibis/filequeue/internal/fsutil"
)

// Codec converts an ordered sequence of items to a blob and back.
type Codec[T any] = codec.Codec[T]

// FS is the filesystem provider used for the buffer directory.
type FS = fsutil.FS

// IDSource hands out unique chunk identifiers.
type IDSource = chunkid.Source

// JSONCodec encodes chunks as JSON arrays.
func JSONCodec[T any]() Codec[T] { return codec.JSON[T]{} }

// GobCodec encodes chunks with encoding/gob.
func GobCodec[T any]() Codec[T] { return codec.Gob[T]{} }

// ProtoCodec encodes protobuf messages; newMsg returns an empty message.
func ProtoCodec[T proto.Message](newMsg func() T) Codec[T] { return codec.NewProto(newMsg) }

type options[T any] struct {
	codec codec.Codec[T]
	fs    fsutil.FS
	ids   chunkid.Source
}

// Option overrides one of the Queue's collaborators.
type Option[T any] func(*options[T])

// WithCodec sets the item serializer used for chunk files.
func WithCodec[T any](c Codec[T]) Option[T] {
	return func(o *options[T]) {
		o.codec = c
	}
}

// WithFS replaces the filesystem provider.
func WithFS[T any](fs FS) Option[T] {
	return func(o *options[T]) {
		o.fs = fs
	}
}

// WithIDSource replaces the chunk identifier source.
func WithIDSource[T any](ids IDSource) Option[T] {
	return func(o *options[T]) {
		o.ids = ids
	}
}
