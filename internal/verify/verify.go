// Package verify checks that every message put through a queue comes out
// exactly once and unmodified.
package verify

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
)

// Message is the item the soak runner pushes through the queue.
type Message struct {
	Producer int    `json:"p"`
	Seq      uint64 `json:"s"`
	Payload  []byte `json:"d,omitempty"`
	Checksum uint64 `json:"c"`
}

// NewMessage builds a message and stamps the payload checksum.
func NewMessage(producer int, seq uint64, payload []byte) Message {
	return Message{
		Producer: producer,
		Seq:      seq,
		Payload:  payload,
		Checksum: xxhash.Sum64(payload),
	}
}

// Intact reports whether the payload still matches its checksum.
func (m Message) Intact() bool {
	return xxhash.Sum64(m.Payload) == m.Checksum
}

func (m Message) key() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], uint64(m.Producer))
	binary.BigEndian.PutUint64(b[8:], m.Seq)
	return b[:]
}

// Report summarizes a run.
type Report struct {
	Produced   uint64
	Consumed   uint64
	Duplicates uint64
	Missing    uint64
	Corrupt    uint64
	// Unexpected counts messages whose producer or sequence was never sent.
	Unexpected uint64
	// DistinctEstimate is the HyperLogLog estimate of distinct messages consumed.
	DistinctEstimate uint64
	// BloomHits counts consumed messages the bloom filter had already seen.
	// Hits not confirmed as duplicates are false positives.
	BloomHits uint64
}

// OK reports whether every produced message was consumed exactly once.
func (r Report) OK() bool {
	return r.Duplicates == 0 && r.Missing == 0 && r.Corrupt == 0 && r.Unexpected == 0 &&
		r.Produced == r.Consumed
}

func (r Report) String() string {
	return fmt.Sprintf("produced=%d consumed=%d duplicates=%d missing=%d corrupt=%d unexpected=%d distinct~%d bloom_hits=%d",
		r.Produced, r.Consumed, r.Duplicates, r.Missing, r.Corrupt, r.Unexpected, r.DistinctEstimate, r.BloomHits)
}

// Verifier tracks produced and consumed messages. It is safe for concurrent use.
//
// The bloom filter is the fast path for duplicate detection; a hit is
// confirmed against the per-producer bitset before it counts.
type Verifier struct {
	mu       sync.Mutex
	produced []uint64
	seen     []*bitset.BitSet
	filter   *bloom.BloomFilter
	sketch   *hyperloglog.Sketch

	consumed   uint64
	duplicates uint64
	corrupt    uint64
	unexpected uint64
	bloomHits  uint64
}

// New creates a Verifier for producers sources. expected and fpRate size
// the bloom filter.
func New(producers int, expected uint, fpRate float64) *Verifier {
	v := &Verifier{
		produced: make([]uint64, producers),
		seen:     make([]*bitset.BitSet, producers),
		filter:   bloom.NewWithEstimates(expected, fpRate),
		sketch:   hyperloglog.New(),
	}
	for i := range v.seen {
		v.seen[i] = bitset.New(0)
	}
	return v
}

// Produced records that producer sent n more messages. Producers number
// their messages 0, 1, 2, ... in order.
func (v *Verifier) Produced(producer int, n uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.produced[producer] += n
}

// Consumed records a message taken from the queue.
func (v *Verifier) Consumed(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.consumed++
	if !m.Intact() {
		v.corrupt++
		return
	}
	if m.Producer < 0 || m.Producer >= len(v.seen) {
		v.unexpected++
		return
	}

	key := m.key()
	v.sketch.Insert(key)
	if !v.filter.TestOrAdd(key) {
		v.seen[m.Producer].Set(uint(m.Seq))
		return
	}
	v.bloomHits++
	if v.seen[m.Producer].Test(uint(m.Seq)) {
		v.duplicates++
		return
	}
	v.seen[m.Producer].Set(uint(m.Seq))
}

// Report computes the final tallies. Messages sent but not consumed are
// counted as missing, so call it after consumers have drained the queue.
func (v *Verifier) Report() Report {
	v.mu.Lock()
	defer v.mu.Unlock()

	r := Report{
		Consumed:         v.consumed,
		Duplicates:       v.duplicates,
		Corrupt:          v.corrupt,
		Unexpected:       v.unexpected,
		DistinctEstimate: v.sketch.Estimate(),
		BloomHits:        v.bloomHits,
	}
	for p, sent := range v.produced {
		r.Produced += sent
		seen := v.seen[p]
		got := uint64(seen.Count())
		// Sequences at or above sent were never produced.
		var beyond uint64
		for i, ok := seen.NextSet(uint(sent)); ok; i, ok = seen.NextSet(i + 1) {
			beyond++
		}
		r.Unexpected += beyond
		r.Missing += sent - (got - beyond)
	}
	return r
}
