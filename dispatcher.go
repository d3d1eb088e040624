package celrix

import (
	"time"

	"github.com/celrix/celrix/protocol"
)

// lane selects one of the two worker pools.
type lane int

const (
	laneKV lane = iota
	laneVector
)

func (l lane) String() string {
	if l == laneVector {
		return "vector"
	}
	return "kv"
}

// classifyLane maps an opcode onto its lane. Everything that is not a
// vector operation runs on the KV lane.
func classifyLane(op protocol.Opcode) lane {
	switch op {
	case protocol.OpVAdd, protocol.OpVSearch:
		return laneVector
	default:
		return laneKV
	}
}

// workItem is one parsed request waiting for a worker, together with the
// connection its response must be posted to.
type workItem struct {
	cmd       *protocol.Command
	requestID uint64
	conn      *conn
	parsedAt  time.Time
}

// dispatcher owns the two bounded MPMC lane queues.
//
// Enqueueing blocks when the target lane is full: the caller is the
// connection's read loop, so a saturated lane pauses reading from the
// offending connections instead of shedding requests. Ping never reaches a
// queue; connections answer it inline.
type dispatcher struct {
	kv     chan workItem
	vector chan workItem
}

func newDispatcher(capacity int) *dispatcher {
	return &dispatcher{
		kv:     make(chan workItem, capacity),
		vector: make(chan workItem, capacity),
	}
}

func (d *dispatcher) queue(l lane) chan workItem {
	if l == laneVector {
		return d.vector
	}
	return d.kv
}

// enqueue places the item on its lane, blocking for capacity. It returns
// false if the connection died while waiting; the item is then dropped and
// the caller settles the in-flight accounting.
func (d *dispatcher) enqueue(it workItem) bool {
	select {
	case d.queue(classifyLane(it.cmd.Op)) <- it:
		return true
	case <-it.conn.ctx.Done():
		return false
	}
}

// depths reports the current queue occupancy per lane.
func (d *dispatcher) depths() (kv, vector int) {
	return len(d.kv), len(d.vector)
}
