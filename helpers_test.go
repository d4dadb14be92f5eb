package filequeue

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/szibis/filequeue/internal/chunkid"
	"github.com/szibis/filequeue/internal/fsutil"
)

var errInjected = errors.New("injected write failure")

// faultFS wraps the OS provider and fails writes on demand.
type faultFS struct {
	fsutil.OS
	failWrites atomic.Bool
	writes     atomic.Int64
}

func (f *faultFS) WriteFile(path string, data []byte) error {
	if f.failWrites.Load() {
		return errInjected
	}
	f.writes.Add(1)
	return f.OS.WriteFile(path, data)
}

// testConfig returns a config rooted in a fresh temp dir with a metrics name
// unique to the test.
func testConfig(t *testing.T, capacity int) Config {
	t.Helper()
	return Config{
		Dir:      filepath.Join(t.TempDir(), "queue"),
		Capacity: capacity,
		Name:     strings.ReplaceAll(t.Name(), "/", "_"),
	}
}

func openQueue[T any](t *testing.T, cfg Config, opts ...Option[T]) *Queue[T] {
	t.Helper()
	q, err := Open[T](cfg, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("Close() error = %v", err)
		}
	})
	return q
}

// chunkFiles lists chunk file names in dir, sorted.
func chunkFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("ReadDir(%s) error = %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if chunkid.Valid(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func mustEnqueue[T any](t *testing.T, q *Queue[T], items ...T) {
	t.Helper()
	for _, item := range items {
		if err := q.Enqueue(item); err != nil {
			t.Fatalf("Enqueue(%v) error = %v", item, err)
		}
	}
}

func mustDequeue[T comparable](t *testing.T, q *Queue[T], want T) {
	t.Helper()
	got, err := q.DequeueNoWait()
	if err != nil {
		t.Fatalf("DequeueNoWait() error = %v, want %v", err, want)
	}
	if got != want {
		t.Fatalf("DequeueNoWait() = %v, want %v", got, want)
	}
}

func drain[T any](t *testing.T, q *Queue[T]) []T {
	t.Helper()
	var out []T
	for {
		item, err := q.DequeueNoWait()
		if errors.Is(err, ErrEmpty) {
			return out
		}
		if err != nil {
			t.Fatalf("DequeueNoWait() error = %v", err)
		}
		out = append(out, item)
	}
}

// exportedGauge returns the value of gauge family for queue as seen by the
// default registry, and whether that series is exported at all.
func exportedGauge(t *testing.T, family, queue string) (float64, bool) {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != family || mf.GetType() != dto.MetricType_GAUGE {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "queue" && lp.GetValue() == queue {
					return m.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}
