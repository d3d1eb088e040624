package store

import (
	"errors"
	"math/bits"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrNotInteger is returned by the counter operations when the stored value
// is not an ASCII decimal integer.
var ErrNotInteger = errors.New("value is not an integer")

// entry is a stored value with its absolute expiry.
// A zero expiresAt means the entry never expires.
type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// shard is an independently locked slice of the keyspace.
type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

// Store is a sharded in-memory key-value store with per-entry TTL.
//
// A key lives in exactly one shard, selected by a seeded xxhash of the key
// masked to the shard count. Shards are locked independently: operations on
// keys in different shards never contend.
//
// Expiry uses the monotonic clock carried by time.Time. An expired entry is
// semantically absent: reads treat it as missing and the reaper removes it
// in the background.
type Store struct {
	shards []*shard
	mask   uint64
	seed   uint64
}

// New creates a store with numShards shards, rounded up to the next power
// of two. numShards <= 0 selects the default of 16. The shard-selection
// hash seed is randomized per process.
func New(numShards int) *Store {
	if numShards <= 0 {
		numShards = 16
	}
	n := nextPowerOfTwo(numShards)

	s := &Store{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		seed:   rand.Uint64(),
	}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]entry)}
	}
	return s
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// NumShards returns the shard count.
func (s *Store) NumShards() int {
	return len(s.shards)
}

func (s *Store) shardFor(key string) *shard {
	var d xxhash.Digest
	d.ResetWithSeed(s.seed)
	_, _ = d.WriteString(key)
	return s.shards[d.Sum64()&s.mask]
}

// Get returns the value stored under key.
// An expired entry reads as missing.
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	now := time.Now()

	sh.mu.RLock()
	e, ok := sh.items[key]
	sh.mu.RUnlock()

	if !ok || e.expired(now) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, overwriting any existing entry.
// ttl = 0 means no expiry; otherwise the entry expires at now + ttl.
func (s *Store) Set(key string, value []byte, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.items[key] = entry{value: value, expiresAt: expiresAt}
	sh.mu.Unlock()
}

// Del removes key and reports whether a live entry was removed.
func (s *Store) Del(key string) bool {
	sh := s.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	e, ok := sh.items[key]
	if ok {
		delete(sh.items, key)
	}
	sh.mu.Unlock()

	return ok && !e.expired(now)
}

// Exists reports whether key holds a live entry.
func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// IncrBy adds delta to the integer stored at key and returns the new value.
// A missing (or expired) key counts from zero. The entry's TTL is preserved.
func (s *Store) IncrBy(key string, delta int64) (int64, error) {
	sh := s.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	var cur int64
	var expiresAt time.Time
	if e, ok := sh.items[key]; ok && !e.expired(now) {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		cur = n
		expiresAt = e.expiresAt
	}

	cur += delta
	sh.items[key] = entry{
		value:     strconv.AppendInt(nil, cur, 10),
		expiresAt: expiresAt,
	}
	return cur, nil
}

// Len returns the number of entries, including not-yet-reaped expired ones.
func (s *Store) Len() int {
	var n int
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Keys returns all live keys accepted by match. A nil match accepts all.
func (s *Store) Keys(match func(string) bool) []string {
	now := time.Now()
	var keys []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.items {
			if e.expired(now) {
				continue
			}
			if match == nil || match(k) {
				keys = append(keys, k)
			}
		}
		sh.mu.RUnlock()
	}
	return keys
}

// Scan walks the keyspace one page per call. cursor 0 starts the walk;
// feeding each returned cursor back continues it, and a returned cursor of
// 0 means the walk is complete. Up to count live keys accepted by match are
// returned per call; count <= 0 selects 10.
//
// The cursor packs the shard index into its low 32 bits and the position
// inside that shard's sorted live keys into the high 32 bits, so a shard
// holding more matching keys than count is drained across calls before the
// walk advances. Over an unchanging keyspace every key is returned exactly
// once. The position is an offset into the shard's sorted keys, so adding
// or removing a key in a shard between calls shifts the keys after it: a
// key present for the whole walk can then be skipped or returned twice.
func (s *Store) Scan(cursor uint64, count int, match func(string) bool) ([]string, uint64) {
	shardIdx := cursor & 0xFFFFFFFF
	offset := int(cursor >> 32)
	if shardIdx >= uint64(len(s.shards)) {
		return nil, 0
	}
	if count <= 0 {
		count = 10
	}

	sh := s.shards[shardIdx]
	now := time.Now()

	sh.mu.RLock()
	keys := make([]string, 0, len(sh.items))
	for k, e := range sh.items {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sh.mu.RUnlock()

	// Map iteration order is random per lock acquisition; sorting gives the
	// stable order the resumable intra-shard offset needs.
	sort.Strings(keys)

	var page []string
	i := min(offset, len(keys))
	for ; i < len(keys) && len(page) < count; i++ {
		if match == nil || match(keys[i]) {
			page = append(page, keys[i])
		}
	}

	if i < len(keys) {
		return page, uint64(i)<<32 | shardIdx
	}
	next := shardIdx + 1
	if next >= uint64(len(s.shards)) {
		next = 0
	}
	return page, next
}
