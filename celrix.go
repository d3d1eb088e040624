package celrix

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/celrix/celrix/store"
	"github.com/celrix/celrix/vector"
)

// Server is the CELRIX core: a TCP listener feeding two worker lanes over
// the sharded KV store and the vector index.
type Server struct {
	addr    string
	opts    options
	log     *Logger
	metrics *Metrics

	store *store.Store
	index *vector.Index
	disp  *dispatcher

	mu     sync.Mutex
	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
	conns  sync.WaitGroup
}

// New creates a server that will listen on addr when started.
func New(addr string, optFns ...Option) *Server {
	opts := applyOptions(optFns)
	return &Server{
		addr:    addr,
		opts:    opts,
		log:     opts.logger,
		metrics: NewMetrics(),
		store:   store.New(opts.numShards),
		index:   vector.NewIndex(opts.vectorDim),
		disp:    newDispatcher(opts.queueCapacity),
	}
}

// Start binds the listener and launches the worker pools, the TTL reaper
// and the accept loop. It returns once the server is accepting.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.g, _ = errgroup.WithContext(s.ctx)

	for i := 0; i < s.opts.kvWorkers; i++ {
		s.g.Go(func() error { s.runWorker(laneKV, i); return nil })
	}
	for i := 0; i < s.opts.vectorWorkers; i++ {
		s.g.Go(func() error { s.runWorker(laneVector, i); return nil })
	}

	reaper := store.NewReaper(s.store, s.opts.reapInterval, s.opts.reapSample, s.log.Logger)
	s.g.Go(func() error { reaper.Run(s.ctx); return nil })

	s.g.Go(s.acceptLoop)

	s.log.Info("celrix server listening",
		"addr", ln.Addr().String(),
		"kv_workers", s.opts.kvWorkers,
		"vector_workers", s.opts.vectorWorkers,
		"shards", s.store.NumShards(),
	)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run starts the server and blocks until ctx is canceled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-s.ctx.Done()
	return s.Close()
}

// Close stops accepting, cancels all connections and waits for the pools
// to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	cancel := s.cancel
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	cancel()
	_ = ln.Close()
	s.conns.Wait()
	_ = s.g.Wait()
	s.log.Info("celrix server stopped")
	return ErrServerClosed
}

// acceptLoop accepts connections until the listener closes. Accept errors
// are retried through a rate limiter so a hot failure (fd exhaustion) does
// not spin the loop.
func (s *Server) acceptLoop() error {
	limiter := rate.NewLimiter(rate.Every(10*time.Millisecond), 1)

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			if limiter.Wait(s.ctx) != nil {
				return nil
			}
			continue
		}

		c := newConn(s, nc)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			c.serve()
		}()
	}
}

// Health is the server's health-query snapshot, consumed by whatever admin
// surface the deployment wraps around the core.
type Health struct {
	Status           string        `json:"status"`
	Uptime           time.Duration `json:"uptime"`
	Connections      int64         `json:"connections"`
	KVQueueDepth     int           `json:"kv_queue_depth"`
	VectorQueueDepth int           `json:"vector_queue_depth"`
	QueueCapacity    int           `json:"queue_capacity"`
	StoreKeys        int           `json:"store_keys"`
	VectorKeys       int           `json:"vector_keys"`
	VectorDimension  int           `json:"vector_dimension"`
}

// Health reports liveness and coarse load.
func (s *Server) Health() Health {
	kv, vec := s.disp.depths()
	return Health{
		Status:           "ok",
		Uptime:           time.Since(s.metrics.start),
		Connections:      s.metrics.Connections(),
		KVQueueDepth:     kv,
		VectorQueueDepth: vec,
		QueueCapacity:    s.opts.queueCapacity,
		StoreKeys:        s.store.Len(),
		VectorKeys:       s.index.Len(),
		VectorDimension:  s.index.Dimension(),
	}
}

// MetricsSnapshot returns the current metrics, including live queue depths.
func (s *Server) MetricsSnapshot() Snapshot {
	snap := s.metrics.snapshot()
	snap.KVQueueDepth, snap.VectorQueueDepth = s.disp.depths()
	return snap
}
