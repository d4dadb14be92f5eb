package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/szibis/filequeue"
	"github.com/szibis/filequeue/internal/config"
	"github.com/szibis/filequeue/internal/logging"
	"github.com/szibis/filequeue/internal/verify"
)

// soak drives producers and consumers against one queue and checks every
// message comes out exactly once.
type soak struct {
	cfg      *config.Config
	verifier *verify.Verifier

	// mu guards q. Operations hold it shared; a reopen holds it exclusively.
	mu sync.RWMutex
	q  *filequeue.Queue[verify.Message]

	producersDone atomic.Bool
	corruptChunks atomic.Int64
	reopens       atomic.Int64
}

func newSoak(cfg *config.Config) (*soak, error) {
	q, err := filequeue.Open[verify.Message](cfg.Queue)
	if err != nil {
		return nil, err
	}
	return &soak{
		cfg:      cfg,
		verifier: verify.New(cfg.Producers, cfg.ExpectedDistinct, cfg.FalsePositive),
		q:        q,
	}, nil
}

// run blocks until every producer finished and the queue is drained. A
// timed run stops producing after cfg.Duration; cancelling ctx stops
// producing early. Consumers always drain what was produced.
func (s *soak) run(ctx context.Context) (verify.Report, error) {
	prodCtx := ctx
	if s.cfg.MessagesPerProducer == 0 {
		var cancel context.CancelFunc
		prodCtx, cancel = context.WithTimeout(ctx, s.cfg.Duration)
		defer cancel()
	}

	stopReopen := make(chan struct{})
	var reopenWG sync.WaitGroup
	if s.cfg.ReopenInterval > 0 {
		reopenWG.Add(1)
		go func() {
			defer reopenWG.Done()
			s.reopenLoop(stopReopen)
		}()
	}

	var consumers errgroup.Group
	for c := 0; c < s.cfg.Consumers; c++ {
		consumers.Go(func() error { return s.consume(c) })
	}

	var producers errgroup.Group
	for p := 0; p < s.cfg.Producers; p++ {
		producers.Go(func() error { return s.produce(prodCtx, p) })
	}

	prodErr := producers.Wait()
	s.producersDone.Store(true)
	consErr := consumers.Wait()
	close(stopReopen)
	reopenWG.Wait()

	report := s.verifier.Report()
	if err := errors.Join(prodErr, consErr); err != nil {
		return report, err
	}
	return report, nil
}

func (s *soak) produce(ctx context.Context, producer int) error {
	var seq uint64
	batch := make([]verify.Message, 0, s.cfg.BatchSize)
	limit := uint64(s.cfg.MessagesPerProducer)

	for limit == 0 || seq < limit {
		if ctx.Err() != nil {
			return nil
		}
		batch = batch[:0]
		for len(batch) < cap(batch) && (limit == 0 || seq < limit) {
			batch = append(batch, verify.NewMessage(producer, seq, payload(producer, seq, s.cfg.PayloadSize)))
			seq++
		}

		s.mu.RLock()
		var err error
		if len(batch) == 1 {
			err = s.q.Enqueue(batch[0])
		} else {
			err = s.q.EnqueueBatch(batch...)
		}
		s.mu.RUnlock()
		if err != nil {
			return fmt.Errorf("producer %d: %w", producer, err)
		}
		s.verifier.Produced(producer, uint64(len(batch)))
	}
	return nil
}

func (s *soak) consume(consumer int) error {
	for {
		finished := s.producersDone.Load()

		s.mu.RLock()
		m, err := s.q.Dequeue(true, s.cfg.DequeueTimeout)
		s.mu.RUnlock()

		switch {
		case err == nil:
			s.verifier.Consumed(m)
		case errors.Is(err, filequeue.ErrEmpty):
			if finished {
				return nil
			}
		case errors.Is(err, filequeue.ErrCorruptChunk):
			s.corruptChunks.Add(1)
			logging.Error("corrupt chunk skipped", logging.F("consumer", consumer, "error", err.Error()))
		default:
			return fmt.Errorf("consumer %d: %w", consumer, err)
		}
	}
}

// reopenLoop closes and reopens the queue every interval. With
// PersistOnClose the queued messages must survive each cycle.
func (s *soak) reopenLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.ReopenInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if err := s.reopen(); err != nil {
			logging.Error("queue reopen failed", logging.F("error", err.Error()))
			return
		}
	}
}

func (s *soak) reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.q.ApproximateSize()
	if err := s.q.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	q, err := filequeue.Open[verify.Message](s.cfg.Queue)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	s.q = q
	s.reopens.Add(1)
	logging.Info("queue reopened", logging.F("size_before", size, "size_after", q.ApproximateSize()))
	return nil
}

func (s *soak) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Close()
}

func (s *soak) stats() filequeue.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Stats()
}

// payload returns size bytes that differ per message, so a chunk that mixes
// up items fails the checksum.
func payload(producer int, seq uint64, size int64) []byte {
	if size <= 0 {
		return nil
	}
	b := make([]byte, size)
	x := seq*0x9E3779B97F4A7C15 + uint64(producer)
	for i := range b {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		b[i] = byte(x)
	}
	return b
}
