package celrix

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/celrix/celrix/protocol"
)

// readBufPool recycles the per-connection read scratch buffers.
var readBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32<<10)
		return &b
	},
}

// conn is one accepted TCP connection.
//
// A connection is half-duplex at the application layer: the read loop
// decodes frames and feeds the dispatcher, the write loop drains the write
// queue onto the socket. Workers post response frames through the write
// queue; frame writes are atomic from the peer's point of view because the
// write loop is the only writer.
//
// States: reading (normal), draining (peer sent FIN; responses for
// in-flight work still flush, new frames are refused), closed.
type conn struct {
	id  string
	srv *Server
	nc  net.Conn
	log *Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeCh chan *protocol.Frame

	// inflight counts accepted requests whose response has not yet been
	// settled (posted or dropped). Once draining is set and inflight hits
	// zero, drained closes and the write loop flushes and exits.
	inflight    atomic.Int64
	draining    atomic.Bool
	drained     chan struct{}
	drainedOnce sync.Once

	writeDone chan struct{}
}

func newConn(s *Server, nc net.Conn) *conn {
	ctx, cancel := context.WithCancel(s.ctx)
	id := uuid.NewString()
	return &conn{
		id:        id,
		srv:       s,
		nc:        nc,
		log:       s.log.WithConn(id),
		ctx:       ctx,
		cancel:    cancel,
		writeCh:   make(chan *protocol.Frame, 64),
		drained:   make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// serve runs the connection to completion.
func (c *conn) serve() {
	c.srv.metrics.ConnOpened()
	c.log.LogConnOpened(c.nc.RemoteAddr().String())

	// Unblock a pending Read when the connection is canceled (shutdown,
	// write failure, framing error on another path).
	stop := context.AfterFunc(c.ctx, func() { _ = c.nc.Close() })
	defer stop()

	go c.writeLoop()

	err := c.readLoop()

	if err == nil {
		// Clean drain: wait for in-flight responses, then let the write
		// loop flush before the socket closes.
		select {
		case <-c.drained:
			<-c.writeDone
		case <-c.ctx.Done():
		}
	}

	c.cancel()
	_ = c.nc.Close()
	<-c.writeDone

	c.srv.metrics.ConnClosed()
	c.log.LogConnClosed(c.nc.RemoteAddr().String(), err)
}

// readLoop decodes frames until EOF or a framing error.
// A nil return means the peer closed cleanly and the connection should
// drain; a non-nil return closes the connection immediately.
func (c *conn) readLoop() error {
	bufp := readBufPool.Get().(*[]byte)
	defer readBufPool.Put(bufp)
	buf := *bufp

	dec := protocol.NewDecoder(c.srv.opts.maxPayload)

	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				f, derr := dec.Next()
				if derr != nil {
					// The stream can no longer be trusted; no response.
					c.log.LogFramingError(derr)
					return derr
				}
				if f == nil {
					break
				}
				c.handleFrame(f)
			}
		}
		if err != nil {
			c.beginDrain()
			if c.ctx.Err() != nil {
				return c.ctx.Err()
			}
			return nil
		}
	}
}

// handleFrame routes one decoded frame: Ping answers inline, parse failures
// answer Error, everything else enters a lane queue (blocking when the lane
// is saturated, which is what pauses this read loop under load).
func (c *conn) handleFrame(f *protocol.Frame) {
	start := time.Now()

	if f.Opcode == protocol.OpPing {
		c.post(protocol.PongResponse.ToFrame(f.RequestID))
		c.srv.metrics.RecordOp(protocol.OpPing, time.Since(start), false)
		return
	}

	cmd, err := protocol.ParseCommand(f)
	if err != nil {
		c.post(protocol.ErrorResponse(wireMessage(err)).ToFrame(f.RequestID))
		c.srv.metrics.RecordOp(f.Opcode, time.Since(start), true)
		return
	}

	c.inflight.Add(1)
	if !c.srv.disp.enqueue(workItem{cmd: cmd, requestID: f.RequestID, conn: c, parsedAt: start}) {
		c.settle()
	}
}

// post hands a frame to the write loop, dropping it if the connection died.
func (c *conn) post(f *protocol.Frame) {
	select {
	case c.writeCh <- f:
	case <-c.ctx.Done():
	}
}

// respond posts a worker's response and settles the request.
func (c *conn) respond(f *protocol.Frame) {
	c.post(f)
	c.settle()
}

// settle retires one in-flight request.
func (c *conn) settle() {
	if c.inflight.Add(-1) == 0 && c.draining.Load() {
		c.finishDrain()
	}
}

func (c *conn) beginDrain() {
	c.draining.Store(true)
	if c.inflight.Load() == 0 {
		c.finishDrain()
	}
}

func (c *conn) finishDrain() {
	c.drainedOnce.Do(func() { close(c.drained) })
}

// alive reports whether the response sink still has a peer behind it.
// Workers consult it before starting expensive computation.
func (c *conn) alive() bool {
	return c.ctx.Err() == nil
}

// writeLoop is the single consumer of the write queue. It batches flushes:
// the socket is flushed only when the queue momentarily empties.
func (c *conn) writeLoop() {
	defer close(c.writeDone)

	bw := bufio.NewWriter(c.nc)

	flush := func() bool {
		return bw.Flush() == nil
	}

	for {
		select {
		case f := <-c.writeCh:
			if protocol.WriteFrame(bw, f) != nil {
				c.cancel()
				return
			}
			if len(c.writeCh) == 0 && !flush() {
				c.cancel()
				return
			}

		case <-c.drained:
			// Drain whatever raced in, flush, and exit.
			for {
				select {
				case f := <-c.writeCh:
					if protocol.WriteFrame(bw, f) != nil {
						c.cancel()
						return
					}
				default:
					flush()
					return
				}
			}

		case <-c.ctx.Done():
			return
		}
	}
}
