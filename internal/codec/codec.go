// Package codec converts ordered item sequences to and from byte blobs.
//
// A Codec only has to round-trip exactly: Decode(Encode(items)) must yield
// items in the same order. The queue does not inspect the bytes.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// Codec encodes an ordered sequence of items into one blob.
type Codec[T any] interface {
	Name() string
	Encode(items []T) ([]byte, error)
	Decode(data []byte) ([]T, error)
}

const (
	NameJSON  = "json"
	NameGob   = "gob"
	NameProto = "proto"
)

// Known reports whether name is a codec name, including proto.
func Known(name string) bool {
	switch normalize(name) {
	case "", NameJSON, NameGob, NameProto:
		return true
	}
	return false
}

// ByName returns the built-in codec registered under name.
// Proto codecs need a message constructor and are built with NewProto.
func ByName[T any](name string) (Codec[T], error) {
	switch normalize(name) {
	case "", NameJSON:
		return JSON[T]{}, nil
	case NameGob:
		return Gob[T]{}, nil
	case NameProto:
		return nil, errors.New("proto codec needs a message constructor, build it with NewProto")
	default:
		return nil, fmt.Errorf("unsupported codec: %s", name)
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// JSON encodes items as a JSON array.
type JSON[T any] struct{}

func (JSON[T]) Name() string { return NameJSON }

func (JSON[T]) Encode(items []T) ([]byte, error) {
	return json.Marshal(items)
}

func (JSON[T]) Decode(data []byte) ([]T, error) {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Gob encodes items with encoding/gob. Interface-typed items must be
// registered with gob.Register by the caller.
type Gob[T any] struct{}

func (Gob[T]) Name() string { return NameGob }

func (Gob[T]) Encode(items []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob[T]) Decode(data []byte) ([]T, error) {
	var items []T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}

// itemField is the field number each message is stored under, so a blob is
// a valid encoding of `message Chunk { repeated T items = 1; }`.
const itemField protowire.Number = 1

var errTrailing = errors.New("proto: unexpected field in chunk")

// Proto encodes protobuf messages as a repeated length-delimited field.
type Proto[T proto.Message] struct {
	newMsg func() T
}

// NewProto builds a Proto codec. newMsg must return a fresh, empty message.
func NewProto[T proto.Message](newMsg func() T) Proto[T] {
	return Proto[T]{newMsg: newMsg}
}

func (Proto[T]) Name() string { return NameProto }

func (Proto[T]) Encode(items []T) ([]byte, error) {
	var out []byte
	opts := proto.MarshalOptions{Deterministic: true}
	for i, m := range items {
		b, err := opts.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = protowire.AppendTag(out, itemField, protowire.BytesType)
		out = protowire.AppendBytes(out, b)
	}
	return out, nil
}

func (p Proto[T]) Decode(data []byte) ([]T, error) {
	var items []T
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		if num != itemField || typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: field %d type %d", errTrailing, num, typ)
		}
		data = data[n:]

		b, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		m := p.newMsg()
		if err := proto.Unmarshal(b, m); err != nil {
			return nil, fmt.Errorf("item %d: %w", len(items), err)
		}
		items = append(items, m)
	}
	return items, nil
}
