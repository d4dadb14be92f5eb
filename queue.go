package filequeue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/szibis/filequeue/internal/chunk"
	"github.com/szibis/filequeue/internal/chunkid"
	"github.com/szibis/filequeue/internal/codec"
	"github.com/szibis/filequeue/internal/compression"
	"github.com/szibis/filequeue/internal/fsutil"
	"github.com/szibis/filequeue/internal/index"
	"github.com/szibis/filequeue/internal/logging"
)

// Queue is a FIFO queue whose overflow lives in chunk files.
//
// All methods are safe for concurrent use. Spills and chunk loads run while
// the queue lock is held, so a large spill delays every other caller.
type Queue[T any] struct {
	cfg     Config
	fs      fsutil.FS
	store   *chunk.Store[T]
	metrics *queueMetrics

	// size is only written with mu held; reads may skip the lock.
	size atomic.Int64

	mu       sync.Mutex
	incoming []T
	outgoing []T
	chunks   []string
	closed   bool

	// wake is closed to release every waiting consumer, then replaced.
	wake    chan struct{}
	waiters int

	spills uint64
	swaps  uint64
	loads  uint64
}

// Stats is a point-in-time view of the queue internals.
type Stats struct {
	Size     int64
	Incoming int
	Outgoing int
	Chunks   int
	Spills   uint64
	Swaps    uint64
	Loads    uint64
}

// Open creates or reopens the queue stored in cfg.Dir.
//
// The directory is created if absent. If it holds an index record left by
// a Close with PersistOnClose, the queued items become available again in
// their original order.
func Open[T any](cfg Config, opts ...Option[T]) (*Queue[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	o := options[T]{
		fs:  fsutil.OS{Sync: cfg.SyncWrites},
		ids: chunkid.UUIDv7{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codec == nil {
		c, err := codec.ByName[T](cfg.Codec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		o.codec = c
	}
	comp, err := compression.ParseType(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := o.fs.MkdirAll(cfg.Dir); err != nil {
		return nil, fmt.Errorf("failed to create buffer directory: %w", err)
	}

	rec, found, err := index.Load(o.fs, cfg.Dir)
	if err != nil {
		if errors.Is(err, index.ErrCorrupt) {
			recordCorrupt(cfg.Name, "index")
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, index.Path(cfg.Dir), err)
		}
		return nil, err
	}

	q := &Queue[T]{
		cfg:     cfg,
		fs:      o.fs,
		store:   chunk.NewStore(o.fs, cfg.Dir, o.codec, comp, o.ids),
		metrics: newQueueMetrics(cfg.Name),
	}
	if found {
		q.size.Store(rec.Size)
		q.chunks = rec.Chunks
		logging.Info("queue restored from index", logging.F(
			"queue", cfg.Name,
			"dir", cfg.Dir,
			"size", rec.Size,
			"chunks", len(rec.Chunks),
		))
	}
	q.removeOrphans()
	q.metrics.update(q.size.Load(), 0, len(q.chunks))

	runtime.SetFinalizer(q, (*Queue[T]).finalize)
	return q, nil
}

// removeOrphans deletes chunk files and temp files that the index does not
// reference. They are left behind by a crash and can never be served.
func (q *Queue[T]) removeOrphans() {
	names, err := q.fs.ReadDir(q.cfg.Dir)
	if err != nil {
		return
	}
	live := make(map[string]struct{}, len(q.chunks))
	for _, id := range q.chunks {
		live[id] = struct{}{}
	}
	for _, name := range names {
		if _, ok := live[name]; ok {
			continue
		}
		if !chunkid.Valid(name) && !fsutil.IsTemp(name) {
			continue
		}
		if err := q.store.Remove(name); err != nil {
			logging.Warn("failed to remove orphaned chunk", logging.F("dir", q.cfg.Dir, "file", name, "error", err.Error()))
			continue
		}
		logging.Info("removed orphaned chunk", logging.F("dir", q.cfg.Dir, "file", name))
	}
}

// Enqueue appends item. It only fails if the queue is closed or a spill to
// disk fails. A failed call leaves the queue as it was, so item can be
// enqueued again.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	err := q.putLocked(item)
	q.signalLocked()
	q.updateMetricsLocked()
	return err
}

// EnqueueBatch appends items in order under a single lock acquisition.
// It stops at the first failed spill: the items before the failing one stay
// queued, the failing one and the rest are not.
func (q *Queue[T]) EnqueueBatch(items ...T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	var err error
	for _, item := range items {
		if err = q.putLocked(item); err != nil {
			break
		}
	}
	q.signalLocked()
	q.updateMetricsLocked()
	return err
}

func (q *Queue[T]) putLocked(item T) error {
	q.incoming = append(q.incoming, item)
	q.size.Add(1)

	if len(q.incoming) >= q.cfg.Capacity {
		if len(q.chunks) == 0 && len(q.outgoing) == 0 {
			// Consumers are fully drained: hand the buffer over without disk I/O.
			q.incoming, q.outgoing = q.outgoing[:0], q.incoming
			q.swaps++
			q.metrics.swaps.Inc()
		} else if err := q.spillLocked(); err != nil {
			// Undo the append so a retry does not queue item twice.
			var zero T
			q.incoming[len(q.incoming)-1] = zero
			q.incoming = q.incoming[:len(q.incoming)-1]
			q.size.Add(-1)
			return err
		}
	}
	q.metrics.enqueued.Inc()
	return nil
}

func (q *Queue[T]) spillLocked() error {
	id, n, err := q.store.Write(q.incoming)
	if err != nil {
		return fmt.Errorf("failed to spill incoming buffer: %w", err)
	}
	q.chunks = append(q.chunks, id)
	q.spills++
	q.metrics.spills.Inc()
	q.metrics.spillBytes.Add(float64(n))
	logging.Debug("spilled incoming buffer", logging.F("queue", q.cfg.Name, "chunk", id, "items", len(q.incoming), "bytes", n))

	clear(q.incoming)
	q.incoming = q.incoming[:0]
	return nil
}

// signalLocked wakes every consumer blocked in a dequeue.
func (q *Queue[T]) signalLocked() {
	if q.waiters > 0 && q.wake != nil {
		close(q.wake)
		q.wake = nil
	}
}

// Dequeue removes and returns the oldest item.
//
// With block false it returns ErrEmpty at once when nothing is queued.
// With block true and timeout <= 0 it waits until an item arrives; with a
// positive timeout it returns ErrEmpty once the timeout passes.
func (q *Queue[T]) Dequeue(block bool, timeout time.Duration) (T, error) {
	if block && timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return q.dequeue(ctx, true)
	}
	return q.dequeue(context.Background(), block)
}

// DequeueNoWait is Dequeue(false, 0).
func (q *Queue[T]) DequeueNoWait() (T, error) {
	return q.dequeue(context.Background(), false)
}

// DequeueContext blocks until an item is available or ctx ends. An expired
// deadline yields ErrEmpty; cancellation yields ctx.Err().
func (q *Queue[T]) DequeueContext(ctx context.Context) (T, error) {
	return q.dequeue(ctx, true)
}

func (q *Queue[T]) dequeue(ctx context.Context, block bool) (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	var waitErr error
	for {
		if q.closed {
			return zero, ErrClosed
		}
		ok, err := q.fillLocked()
		if err != nil {
			q.updateMetricsLocked()
			return zero, err
		}
		if ok {
			item := q.popLocked()
			q.updateMetricsLocked()
			return item, nil
		}

		if !block || waitErr != nil {
			q.metrics.empty.Inc()
			if waitErr != nil && !errors.Is(waitErr, context.DeadlineExceeded) {
				return zero, waitErr
			}
			return zero, ErrEmpty
		}
		// Whatever woke us, the next iteration re-checks outgoing, chunks
		// and incoming in that order.
		waitErr = q.waitLocked(ctx)
	}
}

// waitLocked releases mu until the next signal or until ctx ends.
func (q *Queue[T]) waitLocked(ctx context.Context) error {
	if q.wake == nil {
		q.wake = make(chan struct{})
	}
	wake := q.wake
	q.waiters++
	q.mu.Unlock()

	var err error
	select {
	case <-wake:
	case <-ctx.Done():
		err = ctx.Err()
	}

	q.mu.Lock()
	q.waiters--
	return err
}

// fillLocked makes sure outgoing holds an item if any is queued. Chunks are
// older than incoming, so they are loaded first.
func (q *Queue[T]) fillLocked() (bool, error) {
	for len(q.outgoing) == 0 {
		switch {
		case len(q.chunks) > 0:
			id := q.chunks[0]
			q.chunks = q.chunks[1:]
			items, err := q.store.Read(id)
			if err != nil {
				var ce *chunk.CorruptError
				if errors.As(err, &ce) {
					q.dropLostLocked(ce.Count)
					q.metrics.corrupt("chunk")
					return false, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
				}
				return false, err
			}
			q.outgoing = items
			q.loads++
			q.metrics.loads.Inc()
		case len(q.incoming) > 0:
			q.incoming, q.outgoing = q.outgoing[:0], q.incoming
			q.swaps++
			q.metrics.swaps.Inc()
		default:
			return false, nil
		}
	}
	return true, nil
}

// dropLostLocked takes the items of an unreadable chunk out of size. When
// the header count is unknown size keeps counting them.
func (q *Queue[T]) dropLostLocked(count int) {
	if count <= 0 {
		return
	}
	// A lying header must not push size below what is still held.
	spare := q.size.Load() - int64(len(q.incoming)+len(q.outgoing))
	q.size.Add(-min(int64(count), max(spare, 0)))
}

func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.outgoing[0]
	q.outgoing[0] = zero
	q.outgoing = q.outgoing[1:]
	q.size.Add(-1)
	q.metrics.dequeued.Inc()
	return item
}

func (q *Queue[T]) updateMetricsLocked() {
	q.metrics.update(q.size.Load(), len(q.incoming)+len(q.outgoing), len(q.chunks))
}

// ApproximateSize returns the number of queued items. Concurrent producers
// and consumers make it advisory only.
func (q *Queue[T]) ApproximateSize() int64 {
	return q.size.Load()
}

// Len is ApproximateSize as an int.
func (q *Queue[T]) Len() int {
	return int(q.size.Load())
}

// Dir returns the buffer directory.
func (q *Queue[T]) Dir() string { return q.cfg.Dir }

// Capacity returns the incoming buffer threshold.
func (q *Queue[T]) Capacity() int { return q.cfg.Capacity }

// PersistOnClose reports whether Close keeps queued items on disk.
func (q *Queue[T]) PersistOnClose() bool { return q.cfg.PersistOnClose }

// Stats returns a snapshot of the buffer and chunk counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Size:     q.size.Load(),
		Incoming: len(q.incoming),
		Outgoing: len(q.outgoing),
		Chunks:   len(q.chunks),
		Spills:   q.spills,
		Swaps:    q.swaps,
		Loads:    q.loads,
	}
}

func (q *Queue[T]) String() string {
	return fmt.Sprintf("FileQueue(location:%s, size:%d)", q.cfg.Dir, q.size.Load())
}

// Close releases the queue. Blocked consumers return ErrClosed.
//
// With PersistOnClose the outgoing buffer is written as the first chunk and
// the incoming buffer as the last, and the index record is saved; if nothing
// is left the directory is removed instead. Without PersistOnClose the
// directory and everything in it is removed.
//
// Calling Close again returns ErrClosed.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.closed = true
	runtime.SetFinalizer(q, nil)
	if q.waiters > 0 && q.wake != nil {
		close(q.wake)
		q.wake = nil
	}

	var err error
	if q.cfg.PersistOnClose {
		err = q.persistLocked()
	} else {
		err = q.purgeLocked()
	}

	q.incoming, q.outgoing, q.chunks = nil, nil, nil
	q.metrics.release()
	return err
}

func (q *Queue[T]) persistLocked() error {
	var errs []error
	if len(q.outgoing) > 0 {
		id, _, err := q.store.Write(q.outgoing)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to persist outgoing buffer: %w", err))
		} else {
			q.chunks = slices.Insert(q.chunks, 0, id)
		}
	}
	if len(q.incoming) > 0 {
		id, _, err := q.store.Write(q.incoming)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to persist incoming buffer: %w", err))
		} else {
			q.chunks = append(q.chunks, id)
		}
	}

	if len(q.chunks) == 0 {
		if err := q.purgeLocked(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	rec := index.Record{Size: q.size.Load(), Chunks: q.chunks}
	if err := index.Save(q.fs, q.cfg.Dir, rec); err != nil {
		errs = append(errs, err)
	} else {
		logging.Info("queue persisted", logging.F(
			"queue", q.cfg.Name,
			"dir", q.cfg.Dir,
			"size", rec.Size,
			"chunks", len(rec.Chunks),
		))
	}
	return errors.Join(errs...)
}

func (q *Queue[T]) purgeLocked() error {
	if err := q.fs.RemoveAll(q.cfg.Dir); err != nil {
		return fmt.Errorf("failed to remove buffer directory: %w", err)
	}
	logging.Debug("buffer directory removed", logging.F("queue", q.cfg.Name, "dir", q.cfg.Dir))
	return nil
}

// finalize closes a queue that became unreachable without Close. It is a
// safety net only; the order in which finalizers run is not defined.
func (q *Queue[T]) finalize() {
	logging.Warn("queue collected without Close", logging.F("queue", q.cfg.Name, "dir", q.cfg.Dir))
	if err := q.Close(); err != nil && !errors.Is(err, ErrClosed) {
		logging.Error("finalizer close failed", logging.F("queue", q.cfg.Name, "dir", q.cfg.Dir, "error", err.Error()))
	}
}
