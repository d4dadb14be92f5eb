package filequeue

import "errors"

var (
	// ErrEmpty is returned by a dequeue that found no item, either
	// immediately (non-blocking) or before its timeout elapsed.
	ErrEmpty = errors.New("filequeue: queue is empty")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("filequeue: queue is closed")
	// ErrCorruptChunk is returned when a spilled chunk is missing or cannot
	// be decoded. The queue should be discarded.
	ErrCorruptChunk = errors.New("filequeue: corrupt chunk")
	// ErrCorruptIndex is returned by Open when the index record cannot be decoded.
	ErrCorruptIndex = errors.New("filequeue: corrupt index record")
	// ErrInvalidConfig is returned by Open for an unusable Config.
	ErrInvalidConfig = errors.New("filequeue: invalid config")
)
