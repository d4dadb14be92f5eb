package filequeue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "filequeue_size",
		Help: "Approximate number of queued items",
	}, []string{"queue"})

	queueResidentItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "filequeue_resident_items",
		Help: "Items held in the in-memory incoming and outgoing buffers",
	}, []string{"queue"})

	queueChunks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "filequeue_chunks",
		Help: "Spilled chunk files waiting to be reloaded",
	}, []string{"queue"})

	queueEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_enqueued_total",
		Help: "Total number of items enqueued",
	}, []string{"queue"})

	queueDequeuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_dequeued_total",
		Help: "Total number of items dequeued",
	}, []string{"queue"})

	queueSpillsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_spills_total",
		Help: "Total number of incoming buffers written to chunk files",
	}, []string{"queue"})

	queueSpillBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_spill_bytes_total",
		Help: "Total bytes written to chunk files",
	}, []string{"queue"})

	queueSwapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_swaps_total",
		Help: "Total number of incoming/outgoing buffer swaps",
	}, []string{"queue"})

	queueChunkLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_chunk_loads_total",
		Help: "Total number of chunk files loaded back into memory",
	}, []string{"queue"})

	queueEmptyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_empty_total",
		Help: "Total number of dequeues that returned ErrEmpty",
	}, []string{"queue"})

	queueCorruptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_corrupt_total",
		Help: "Total number of undecodable persisted files by kind",
	}, []string{"queue", "kind"})
)

// labelRefs counts the open queues exporting each label. Queues that share
// a name share one series, and its gauges live until the last one closes.
var (
	labelMu   sync.Mutex
	labelRefs = make(map[string]int)
)

func init() {
	prometheus.MustRegister(
		queueSize,
		queueResidentItems,
		queueChunks,
		queueEnqueuedTotal,
		queueDequeuedTotal,
		queueSpillsTotal,
		queueSpillBytesTotal,
		queueSwapsTotal,
		queueChunkLoadsTotal,
		queueEmptyTotal,
		queueCorruptTotal,
	)
}

// queueMetrics holds the collectors curried with one queue's label.
type queueMetrics struct {
	name       string
	released   bool // guarded by labelMu
	size       prometheus.Gauge
	resident   prometheus.Gauge
	chunks     prometheus.Gauge
	enqueued   prometheus.Counter
	dequeued   prometheus.Counter
	spills     prometheus.Counter
	spillBytes prometheus.Counter
	swaps      prometheus.Counter
	loads      prometheus.Counter
	empty      prometheus.Counter
}

func newQueueMetrics(name string) *queueMetrics {
	labelMu.Lock()
	labelRefs[name]++
	labelMu.Unlock()

	return &queueMetrics{
		name:       name,
		size:       queueSize.WithLabelValues(name),
		resident:   queueResidentItems.WithLabelValues(name),
		chunks:     queueChunks.WithLabelValues(name),
		enqueued:   queueEnqueuedTotal.WithLabelValues(name),
		dequeued:   queueDequeuedTotal.WithLabelValues(name),
		spills:     queueSpillsTotal.WithLabelValues(name),
		spillBytes: queueSpillBytesTotal.WithLabelValues(name),
		swaps:      queueSwapsTotal.WithLabelValues(name),
		loads:      queueChunkLoadsTotal.WithLabelValues(name),
		empty:      queueEmptyTotal.WithLabelValues(name),
	}
}

func (m *queueMetrics) corrupt(kind string) {
	recordCorrupt(m.name, kind)
}

func recordCorrupt(name, kind string) {
	queueCorruptTotal.WithLabelValues(name, kind).Inc()
}

func (m *queueMetrics) update(size int64, resident, chunks int) {
	m.size.Set(float64(size))
	m.resident.Set(float64(resident))
	m.chunks.Set(float64(chunks))
}

// release drops the gauges once the last open queue with this name closes.
// Counters are kept; they are cumulative per name across reopen.
func (m *queueMetrics) release() {
	labelMu.Lock()
	defer labelMu.Unlock()

	if m.released {
		return
	}
	m.released = true
	labelRefs[m.name]--
	if labelRefs[m.name] > 0 {
		return
	}
	delete(labelRefs, m.name)
	queueSize.DeleteLabelValues(m.name)
	queueResidentItems.DeleteLabelValues(m.name)
	queueChunks.DeleteLabelValues(m.name)
}
