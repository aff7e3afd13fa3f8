// Package capture implements the analysis capture link and the analysis
// orchestrator (spec §2 item 8, §4.6, §4.8): a bounded drop-oldest
// queue of per-block capture records fed from the audio thread, and an
// off-thread consumer that computes only the signals nothing upstream
// already produced.
//
// Grounded on pipeline.TranscriptionQueue (bounded channel, drop policy,
// a dedicated consumer goroutine pulling off it) generalized from audio
// segments to capture records, and on pipeline's worker-pool processing
// loop for the orchestrator's consume-and-dispatch shape.
package capture

import (
	"sync"
	"sync/atomic"

	"github.com/hotmic/engine/internal/analysisbus"
)

// Record is one block's capture snapshot (spec §4.6 "capture record"):
// the resolved entry buffer for the block plus a snapshot of the
// producer map as of capture time, so a downstream consumer can resolve
// "who produced this signal" after the fact without racing the live
// chain.
type Record struct {
	ChannelID    int
	SampleTime   int64
	Buffer       []float32 // pooled; Release returns it
	ProducerMap  analysisbus.ProducerMap
}

// pool reuses capture buffers across blocks so the audio thread never
// allocates when it enqueues a record (spec §4.8).
type pool struct {
	sync.Pool
}

func newPool(blockSize int) *pool {
	p := &pool{}
	p.Pool.New = func() any {
		return make([]float32, blockSize)
	}
	return p
}

func (p *pool) get() []float32  { return p.Pool.Get().([]float32) }
func (p *pool) put(b []float32) { p.Pool.Put(b) } //nolint:unused // kept for callers that hand buffers back explicitly

// Link is the bounded, drop-oldest queue between the audio thread and
// the analysis orchestrator (spec §4.6 "Entry selection", §4.8: "on a
// full queue, the oldest record is dropped to make room, never the
// newest" — this is the one place in the engine where drop-oldest, not
// drop-newest, is correct, since a stale capture is worse than a
// missing one for the analysis consumer).
type Link struct {
	mu      sync.Mutex
	records []Record
	cap     int
	pool    *pool
	dropped atomic.Int64
}

// NewLink creates a capture link with the given bounded capacity and
// block size (buffers are pooled at this size).
func NewLink(capacity, blockSize int) *Link {
	return &Link{cap: capacity, pool: newPool(blockSize)}
}

// Acquire returns a pooled buffer of block size for the caller to fill
// before calling Push. Called from the audio thread; never allocates
// once the pool has warmed up.
func (l *Link) Acquire() []float32 { return l.pool.get() }

// Push enqueues a filled record, evicting and recycling the oldest
// queued record if the link is at capacity.
func (l *Link) Push(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.cap {
		oldest := l.records[0]
		l.records = l.records[1:]
		l.pool.put(oldest.Buffer)
		l.dropped.Add(1)
	}
	l.records = append(l.records, r)
}

// Drain removes and returns every currently queued record, oldest
// first. Called from the orchestrator goroutine.
func (l *Link) Drain() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return nil
	}
	out := l.records
	l.records = nil
	return out
}

// Release returns a consumed record's buffer to the pool.
func (l *Link) Release(r Record) { l.pool.put(r.Buffer) }

// Dropped returns the cumulative count of records evicted for being
// stale (spec §7 back-pressure counters).
func (l *Link) Dropped() int64 { return l.dropped.Load() }
