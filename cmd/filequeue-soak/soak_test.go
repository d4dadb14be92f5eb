package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/szibis/filequeue/internal/config"
)

func testSoakConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Queue.Dir = filepath.Join(t.TempDir(), "soak")
	cfg.Queue.Capacity = 8
	cfg.Queue.Name = t.Name()
	cfg.Producers = 3
	cfg.Consumers = 2
	cfg.MessagesPerProducer = 200
	cfg.PayloadSize = 32
	cfg.DequeueTimeout = 20 * time.Millisecond
	cfg.ExpectedDistinct = 10000
	cfg.StatsAddr = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

func runSoak(t *testing.T, cfg *config.Config, ctx context.Context) *soak {
	t.Helper()
	s, err := newSoak(cfg)
	if err != nil {
		t.Fatalf("newSoak() error = %v", err)
	}
	t.Cleanup(func() { _ = s.close() })

	report, err := s.run(ctx)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !report.OK() {
		t.Fatalf("verification failed: %s", report)
	}
	return s
}

func TestSoakBounded(t *testing.T) {
	cfg := testSoakConfig(t)
	s := runSoak(t, cfg, context.Background())

	if got := s.verifier.Report().Produced; got != 600 {
		t.Errorf("produced %d, want 600", got)
	}
	if st := s.stats(); st.Spills == 0 {
		t.Errorf("expected spills with capacity 8, got %+v", st)
	}
}

func TestSoakBatchedCompressed(t *testing.T) {
	cfg := testSoakConfig(t)
	cfg.BatchSize = 5
	cfg.Queue.Codec = "gob"
	cfg.Queue.Compression = "zstd"

	runSoak(t, cfg, context.Background())
}

func TestSoakTimed(t *testing.T) {
	cfg := testSoakConfig(t)
	cfg.MessagesPerProducer = 0
	cfg.Duration = 100 * time.Millisecond

	s := runSoak(t, cfg, context.Background())
	if s.verifier.Report().Produced == 0 {
		t.Error("timed run produced nothing")
	}
}

func TestSoakWithReopen(t *testing.T) {
	cfg := testSoakConfig(t)
	cfg.Queue.PersistOnClose = true
	cfg.MessagesPerProducer = 0
	cfg.Duration = 300 * time.Millisecond
	cfg.ReopenInterval = 50 * time.Millisecond

	s := runSoak(t, cfg, context.Background())
	if s.reopens.Load() == 0 {
		t.Error("expected at least one reopen")
	}
}

func TestSoakCancelledStillDrains(t *testing.T) {
	cfg := testSoakConfig(t)
	cfg.MessagesPerProducer = 0
	cfg.Duration = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	s := runSoak(t, cfg, ctx)
	if s.stats().Size != 0 {
		t.Errorf("queue not drained: %+v", s.stats())
	}
}

func TestPayloadVariesPerMessage(t *testing.T) {
	a := payload(0, 1, 16)
	b := payload(0, 2, 16)
	c := payload(1, 1, 16)
	if len(a) != 16 {
		t.Fatalf("len = %d", len(a))
	}
	if bytes.Equal(a, b) || bytes.Equal(a, c) {
		t.Error("payloads should differ between messages")
	}
	if !bytes.Equal(a, payload(0, 1, 16)) {
		t.Error("payload should be deterministic")
	}
	if payload(0, 0, 0) != nil {
		t.Error("zero size should give nil payload")
	}
}
