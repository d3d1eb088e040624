package store

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultReapInterval is the pause between reap cycles.
	DefaultReapInterval = 100 * time.Millisecond

	// DefaultReapSample is the number of entries sampled per shard per pass.
	DefaultReapSample = 20

	// maxPassesPerShard bounds the adaptive re-sampling of a single shard
	// within one cycle so a huge backlog cannot starve the other shards.
	maxPassesPerShard = 16
)

// Reaper removes expired entries in the background.
//
// Each cycle it samples up to Sample random entries per shard and evicts the
// expired ones. If more than a quarter of a shard's sample was expired the
// shard is sampled again immediately, so eviction throughput adapts to the
// expiry rate. Clients never observe expired entries regardless; the reaper
// only reclaims memory.
type Reaper struct {
	Store    *Store
	Interval time.Duration
	Sample   int
	Logger   *slog.Logger
}

// NewReaper creates a reaper with defaults applied for zero fields.
func NewReaper(s *Store, interval time.Duration, sample int, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if sample <= 0 {
		sample = DefaultReapSample
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reaper{Store: s, Interval: interval, Sample: sample, Logger: logger}
}

// Run reaps until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.Logger.Debug("ttl reaper started", "interval", r.Interval, "sample", r.Sample)

	for {
		select {
		case <-ctx.Done():
			r.Logger.Debug("ttl reaper stopped")
			return
		case <-ticker.C:
			if removed := r.ReapOnce(); removed > 0 {
				r.Logger.Debug("reaped expired keys", "removed", removed)
			}
		}
	}
}

// ReapOnce runs a single cycle over all shards and returns the number of
// entries evicted.
func (r *Reaper) ReapOnce() int {
	var total int
	for _, sh := range r.Store.shards {
		for pass := 0; pass < maxPassesPerShard; pass++ {
			sampled, removed := reapShard(sh, r.Sample)
			total += removed
			// Redis-style adaptive sampling: keep going while more than
			// 25% of the sample was expired.
			if sampled == 0 || removed*4 <= sampled {
				break
			}
		}
	}
	return total
}

// reapShard samples up to limit entries from sh and deletes the expired
// ones. Map iteration order is randomized by the runtime, which gives the
// random sample for free.
func reapShard(sh *shard, limit int) (sampled, removed int) {
	now := time.Now()

	sh.mu.Lock()
	for k, e := range sh.items {
		if sampled >= limit {
			break
		}
		sampled++
		if e.expired(now) {
			delete(sh.items, k)
			removed++
		}
	}
	sh.mu.Unlock()

	return sampled, removed
}
