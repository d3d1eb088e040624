package celrix

import (
	"math"
	"runtime"
	"strconv"
	"time"

	"github.com/gobwas/glob"

	"github.com/celrix/celrix/protocol"
)

// runWorker drains one lane until the server stops.
//
// KV workers lock their goroutine to an OS thread and pin it to a core so
// vector compute cannot preempt the latency-critical lane. Vector workers
// stay unpinned and roam the remaining cores.
func (s *Server) runWorker(l lane, id int) {
	log := s.log.WithWorker(l.String(), id)

	if l == laneKV && s.opts.pinKVWorkers {
		runtime.LockOSThread()
		if err := pinToCPU(id % runtime.NumCPU()); err != nil {
			log.Debug("core pinning unavailable", "error", err)
		}
	}

	queue := s.disp.queue(l)
	for {
		select {
		case <-s.ctx.Done():
			return
		case it := <-queue:
			s.process(it, log)
		}
	}
}

// process executes one work item and posts its response. A panic in an
// operation is confined to that item: the client gets Error("internal")
// and the worker keeps serving.
func (s *Server) process(it workItem, log *Logger) {
	// Pure reads for a dead sink are discarded before doing any work;
	// writes execute regardless so the store's history stays simple.
	if !it.conn.alive() && isPureRead(it.cmd.Op) {
		it.conn.settle()
		return
	}

	resp := s.executeSafely(it)

	it.conn.respond(resp.ToFrame(it.requestID))

	latency := time.Since(it.parsedAt)
	failed := resp.Kind == protocol.RespError
	s.metrics.RecordOp(it.cmd.Op, latency, failed)
	log.LogOp(it.cmd.Op, latency, nil)
}

func isPureRead(op protocol.Opcode) bool {
	switch op {
	case protocol.OpGet, protocol.OpExists, protocol.OpMGet,
		protocol.OpScan, protocol.OpKeys, protocol.OpVSearch:
		return true
	default:
		return false
	}
}

func (s *Server) executeSafely(it workItem) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("operation panicked", "op", it.cmd.Op.String(), "panic", r)
			resp = protocol.ErrorResponse("internal")
		}
	}()
	return s.execute(it)
}

// execute runs a parsed command against the data planes.
func (s *Server) execute(it workItem) *protocol.Response {
	cmd := it.cmd

	switch cmd.Op {
	case protocol.OpGet:
		if err := s.checkKey(cmd.Key); err != nil {
			return protocol.ErrorResponse(wireMessage(err))
		}
		if v, ok := s.store.Get(string(cmd.Key)); ok {
			return protocol.ValueResponse(v)
		}
		return protocol.NilResponse

	case protocol.OpSet:
		if err := s.checkEntry(cmd.Key, cmd.Value); err != nil {
			return protocol.ErrorResponse(wireMessage(err))
		}
		s.store.Set(string(cmd.Key), cmd.Value, ttlDuration(cmd.TTL))
		return protocol.OkResponse

	case protocol.OpDel:
		if err := s.checkKey(cmd.Key); err != nil {
			return protocol.ErrorResponse(wireMessage(err))
		}
		return boolInteger(s.store.Del(string(cmd.Key)))

	case protocol.OpExists:
		if err := s.checkKey(cmd.Key); err != nil {
			return protocol.ErrorResponse(wireMessage(err))
		}
		return boolInteger(s.store.Exists(string(cmd.Key)))

	case protocol.OpMGet:
		items := make([][]byte, len(cmd.Keys))
		for i, k := range cmd.Keys {
			if err := s.checkKey(k); err != nil {
				return protocol.ErrorResponse(wireMessage(err))
			}
			if v, ok := s.store.Get(string(k)); ok {
				items[i] = v
			} else {
				items[i] = []byte{}
			}
		}
		return protocol.ArrayResponse(items)

	case protocol.OpMSet:
		for _, p := range cmd.Pairs {
			if err := s.checkEntry(p.Key, p.Value); err != nil {
				return protocol.ErrorResponse(wireMessage(err))
			}
		}
		for _, p := range cmd.Pairs {
			s.store.Set(string(p.Key), p.Value, 0)
		}
		return protocol.OkResponse

	case protocol.OpMDel:
		var removed int64
		for _, k := range cmd.Keys {
			if err := s.checkKey(k); err != nil {
				return protocol.ErrorResponse(wireMessage(err))
			}
			if s.store.Del(string(k)) {
				removed++
			}
		}
		return protocol.IntegerResponse(removed)

	case protocol.OpIncr:
		return s.incr(cmd.Key, 1)
	case protocol.OpDecr:
		return s.incr(cmd.Key, -1)
	case protocol.OpIncrBy:
		return s.incr(cmd.Key, cmd.Delta)
	case protocol.OpDecrBy:
		return s.incr(cmd.Key, -cmd.Delta)

	case protocol.OpScan:
		match, err := compilePattern(cmd.Pattern)
		if err != nil {
			return protocol.ErrorResponse(wireMessage(err))
		}
		keys, next := s.store.Scan(cmd.Cursor, int(cmd.Count), match)
		items := make([][]byte, 0, len(keys)+1)
		items = append(items, strconv.AppendUint(nil, next, 10))
		for _, k := range keys {
			items = append(items, []byte(k))
		}
		return protocol.ArrayResponse(items)

	case protocol.OpKeys:
		match, err := compilePattern(cmd.Pattern)
		if err != nil {
			return protocol.ErrorResponse(wireMessage(err))
		}
		keys := s.store.Keys(match)
		items := make([][]byte, len(keys))
		for i, k := range keys {
			items[i] = []byte(k)
		}
		return protocol.ArrayResponse(items)

	case protocol.OpVAdd:
		if err := s.checkKey(cmd.Key); err != nil {
			return protocol.ErrorResponse(wireMessage(err))
		}
		if err := s.index.Add(string(cmd.Key), cmd.Vector); err != nil {
			return protocol.ErrorResponse(wireMessage(err))
		}
		return protocol.OkResponse

	case protocol.OpVSearch:
		results, err := s.index.Search(it.conn.ctx, cmd.Vector, cmd.K)
		if err != nil {
			if it.conn.ctx.Err() != nil {
				// Aborted mid-scan for a dead sink; the frame is dropped
				// by the write path anyway.
				return protocol.ErrorResponse("internal")
			}
			return protocol.ErrorResponse(wireMessage(err))
		}
		items := make([][]byte, len(results))
		for i, r := range results {
			items[i] = []byte(r.Key)
		}
		return protocol.ArrayResponse(items)

	default:
		return protocol.ErrorResponse("UnknownOpcode")
	}
}

func (s *Server) incr(key []byte, delta int64) *protocol.Response {
	if err := s.checkKey(key); err != nil {
		return protocol.ErrorResponse(wireMessage(err))
	}
	n, err := s.store.IncrBy(string(key), delta)
	if err != nil {
		return protocol.ErrorResponse(wireMessage(err))
	}
	return protocol.IntegerResponse(n)
}

func (s *Server) checkKey(key []byte) error {
	if len(key) > protocol.MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

func (s *Server) checkEntry(key, value []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	if len(value) > s.opts.maxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

func compilePattern(pattern []byte) (func(string) bool, error) {
	if pattern == nil {
		return nil, nil
	}
	g, err := glob.Compile(string(pattern))
	if err != nil {
		return nil, ErrInvalidPattern
	}
	return g.Match, nil
}

func boolInteger(b bool) *protocol.Response {
	if b {
		return protocol.IntegerResponse(1)
	}
	return protocol.IntegerResponse(0)
}

// maxTTLSeconds keeps the expiry arithmetic inside time.Duration's range.
const maxTTLSeconds = uint64(math.MaxInt64 / int64(time.Second))

func ttlDuration(seconds uint64) time.Duration {
	if seconds > maxTTLSeconds {
		seconds = maxTTLSeconds
	}
	return time.Duration(seconds) * time.Second
}
