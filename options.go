package celrix

import (
	"runtime"
	"time"

	"github.com/celrix/celrix/protocol"
	"github.com/celrix/celrix/store"
)

type options struct {
	logger        *Logger
	kvWorkers     int
	vectorWorkers int
	queueCapacity int
	numShards     int
	maxPayload    uint32
	maxValueSize  int
	vectorDim     int
	reapInterval  time.Duration
	reapSample    int
	pinKVWorkers  bool
}

// Option configures Server construction.
type Option func(*options)

// WithLogger configures structured logging. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithKVWorkers sets the KV lane pool size.
// n <= 0 selects the core count.
func WithKVWorkers(n int) Option {
	return func(o *options) {
		o.kvWorkers = n
	}
}

// WithVectorWorkers sets the vector lane pool size.
// n <= 0 selects the default of 4.
func WithVectorWorkers(n int) Option {
	return func(o *options) {
		o.vectorWorkers = n
	}
}

// WithQueueCapacity sets the per-lane queue bound. When a lane's queue is
// full, connections feeding it stop reading until capacity frees.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		o.queueCapacity = n
	}
}

// WithNumShards sets the KV store shard count, rounded up to a power of
// two. n <= 0 derives it from the KV worker count (minimum 16).
func WithNumShards(n int) Option {
	return func(o *options) {
		o.numShards = n
	}
}

// WithMaxPayload caps a single frame's payload. Frames declaring more are a
// framing error and close the connection.
func WithMaxPayload(n uint32) Option {
	return func(o *options) {
		o.maxPayload = n
	}
}

// WithMaxValueSize caps a single stored value.
func WithMaxValueSize(n int) Option {
	return func(o *options) {
		o.maxValueSize = n
	}
}

// WithVectorDimension fixes the vector index dimension.
// dim = 0 defers it to the first VADD.
func WithVectorDimension(dim int) Option {
	return func(o *options) {
		o.vectorDim = dim
	}
}

// WithReaper tunes the TTL reaper's cycle interval and per-shard sample
// size. Zero values keep the defaults (100ms, 20 entries).
func WithReaper(interval time.Duration, sample int) Option {
	return func(o *options) {
		o.reapInterval = interval
		o.reapSample = sample
	}
}

// WithPinning controls pinning KV workers to cores. Pinning is on by
// default; it is a jitter optimization, not a correctness requirement, and
// is a no-op on platforms without affinity support.
func WithPinning(enabled bool) Option {
	return func(o *options) {
		o.pinKVWorkers = enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:        NoopLogger(),
		kvWorkers:     runtime.NumCPU(),
		vectorWorkers: 4,
		queueCapacity: 1024,
		maxPayload:    protocol.DefaultMaxPayload,
		maxValueSize:  512 << 20,
		vectorDim:     1536,
		reapInterval:  store.DefaultReapInterval,
		reapSample:    store.DefaultReapSample,
		pinKVWorkers:  true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.kvWorkers <= 0 {
		o.kvWorkers = runtime.NumCPU()
	}
	if o.vectorWorkers <= 0 {
		o.vectorWorkers = 4
	}
	if o.queueCapacity <= 0 {
		o.queueCapacity = 1024
	}
	if o.numShards <= 0 {
		o.numShards = max(16, o.kvWorkers)
	}
	if o.maxPayload == 0 {
		o.maxPayload = protocol.DefaultMaxPayload
	}
	return o
}
