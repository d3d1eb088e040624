package celrix

import (
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/celrix/celrix/protocol"
)

// histBuckets is the number of latency histogram buckets. Bucket i counts
// operations that completed in under 2^i microseconds; the last bucket is
// the overflow.
const histBuckets = 26

type opStats struct {
	count  atomic.Uint64
	errors atomic.Uint64
}

type histogram struct {
	buckets  [histBuckets]atomic.Uint64
	count    atomic.Uint64
	sumNanos atomic.Uint64
}

func (h *histogram) observe(d time.Duration) {
	micros := uint64(d.Microseconds())
	idx := bits.Len64(micros)
	if idx >= histBuckets {
		idx = histBuckets - 1
	}
	h.buckets[idx].Add(1)
	h.count.Add(1)
	h.sumNanos.Add(uint64(d.Nanoseconds()))
}

func (h *histogram) snapshot() HistogramSnapshot {
	s := HistogramSnapshot{
		Count:    h.count.Load(),
		SumNanos: h.sumNanos.Load(),
	}
	for i := range h.buckets {
		s.Buckets[i] = h.buckets[i].Load()
	}
	return s
}

// Metrics collects operation counters and latency histograms with atomic
// increments only; there is no locking on the hot path.
//
// Latency is measured from frame parsed to response enqueued on the
// connection's write queue. Each lane has its own histogram so slow vector
// searches do not drown the KV latency signal.
type Metrics struct {
	start         time.Time
	connections   atomic.Int64
	ops           [256]opStats
	kvLatency     histogram
	vectorLatency histogram
}

// NewMetrics creates a metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{start: time.Now()}
}

// RecordOp records a completed operation for the given opcode.
func (m *Metrics) RecordOp(op protocol.Opcode, latency time.Duration, failed bool) {
	st := &m.ops[op]
	st.count.Add(1)
	if failed {
		st.errors.Add(1)
	}
	if op == protocol.OpVAdd || op == protocol.OpVSearch {
		m.vectorLatency.observe(latency)
	} else {
		m.kvLatency.observe(latency)
	}
}

// ConnOpened increments the live connection count.
func (m *Metrics) ConnOpened() { m.connections.Add(1) }

// ConnClosed decrements the live connection count.
func (m *Metrics) ConnClosed() { m.connections.Add(-1) }

// Connections returns the number of live connections.
func (m *Metrics) Connections() int64 { return m.connections.Load() }

// OpCount is the counter pair for one opcode.
type OpCount struct {
	Op     string `json:"op"`
	Count  uint64 `json:"count"`
	Errors uint64 `json:"errors"`
}

// HistogramSnapshot is a point-in-time copy of a latency histogram.
// Buckets[i] counts operations under 2^i microseconds.
type HistogramSnapshot struct {
	Count    uint64              `json:"count"`
	SumNanos uint64              `json:"sum_nanos"`
	Buckets  [histBuckets]uint64 `json:"buckets"`
}

// Snapshot is an internally consistent view of the collected metrics.
// Counters are monotonic and read atomically; the snapshot as a whole is
// not a transaction across counters.
type Snapshot struct {
	Uptime           time.Duration     `json:"uptime"`
	Connections      int64             `json:"connections"`
	Ops              []OpCount         `json:"ops"`
	KVLatency        HistogramSnapshot `json:"kv_latency"`
	VectorLatency    HistogramSnapshot `json:"vector_latency"`
	KVQueueDepth     int               `json:"kv_queue_depth"`
	VectorQueueDepth int               `json:"vector_queue_depth"`
}

// snapshot collects the opcode counters and histograms. Queue depths are
// filled in by the server, which owns the lanes.
func (m *Metrics) snapshot() Snapshot {
	s := Snapshot{
		Uptime:        time.Since(m.start),
		Connections:   m.connections.Load(),
		KVLatency:     m.kvLatency.snapshot(),
		VectorLatency: m.vectorLatency.snapshot(),
	}
	for op := range m.ops {
		count := m.ops[op].count.Load()
		if count == 0 {
			continue
		}
		s.Ops = append(s.Ops, OpCount{
			Op:     protocol.Opcode(op).String(),
			Count:  count,
			Errors: m.ops[op].errors.Load(),
		})
	}
	return s
}
