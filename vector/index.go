package vector

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/celrix/celrix/internal/simd"
)

// ErrDimensionMismatch indicates a vector whose dimension differs from the
// index's established dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Result is a single search hit.
type Result struct {
	Key   string
	Score float32 // cosine similarity in [-1, 1]
}

// entry holds a stored vector with its precomputed L2 norm.
type entry struct {
	vector []float32
	norm   float32
}

// Index is a brute-force cosine-similarity index over fixed-dimension
// float32 vectors.
//
// The whole index sits behind one read/write lock: Add and Remove take the
// write lock, Search takes the read lock for the full scan. Search is
// CPU-bound and long; callers are expected to run it on the vector worker
// pool so it never occupies the KV lane.
type Index struct {
	mu      sync.RWMutex
	dim     int // 0 until fixed by construction or the first Add
	entries map[string]entry
}

// NewIndex creates an index. dim > 0 fixes the dimension up front; dim = 0
// defers it to the first Add.
func NewIndex(dim int) *Index {
	return &Index{
		dim:     max(dim, 0),
		entries: make(map[string]entry),
	}
}

// Dimension returns the established dimension, or 0 if none yet.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Len returns the number of stored vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Add stores vec under key, overwriting any existing entry, and precomputes
// its L2 norm. The first Add on an unfixed index establishes the dimension;
// afterwards every vector must match it.
func (ix *Index) Add(key string, vec []float32) error {
	if len(vec) == 0 {
		return &ErrDimensionMismatch{Expected: ix.Dimension(), Actual: 0}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim == 0 {
		ix.dim = len(vec)
	} else if len(vec) != ix.dim {
		return &ErrDimensionMismatch{Expected: ix.dim, Actual: len(vec)}
	}

	ix.entries[key] = entry{vector: vec, norm: simd.Norm(vec)}
	return nil
}

// Remove deletes key from the index and reports whether it was present.
// Not exposed on the wire in protocol v1.
func (ix *Index) Remove(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, ok := ix.entries[key]
	if ok {
		delete(ix.entries, key)
	}
	return ok
}

// checkEvery is how many entries a search scans between ctx checks.
const checkEvery = 1024

// Search returns up to k keys most cosine-similar to query, sorted by
// descending similarity with ties broken by ascending key byte order.
//
// The scan is O(N·D): every entry's dot product against the query, a
// bounded min-heap keeping the best k. ctx is checked periodically so an
// abandoned search (dead connection) stops burning CPU.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.dim != 0 && len(query) != ix.dim {
		return nil, &ErrDimensionMismatch{Expected: ix.dim, Actual: len(query)}
	}
	if len(ix.entries) == 0 {
		return nil, nil
	}

	qnorm := simd.Norm(query)

	top := newTopK(min(k, len(ix.entries)))
	var scanned int
	for key, e := range ix.entries {
		if scanned%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scanned++

		var sim float32
		if denom := qnorm * e.norm; denom > 0 {
			sim = simd.Dot(query, e.vector) / denom
		}
		top.offer(key, sim)
	}

	results := top.results
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key < results[j].Key
	})
	return results, nil
}

// topK is a bounded min-heap of search results. The root is the weakest
// kept result: lowest similarity, and among equal similarities the
// byte-largest key, so ties resolve toward ascending key order.
type topK struct {
	k       int
	results []Result
}

func newTopK(k int) *topK {
	return &topK{k: k, results: make([]Result, 0, k)}
}

func (t *topK) Len() int { return len(t.results) }

func (t *topK) Less(i, j int) bool {
	if t.results[i].Score != t.results[j].Score {
		return t.results[i].Score < t.results[j].Score
	}
	return t.results[i].Key > t.results[j].Key
}

func (t *topK) Swap(i, j int) {
	t.results[i], t.results[j] = t.results[j], t.results[i]
}

func (t *topK) Push(x any) {
	t.results = append(t.results, x.(Result))
}

func (t *topK) Pop() any {
	old := t.results
	n := len(old)
	item := old[n-1]
	t.results = old[:n-1]
	return item
}

// offer inserts the candidate if the heap has room or if it beats the
// current weakest entry.
func (t *topK) offer(key string, score float32) {
	if len(t.results) < t.k {
		heap.Push(t, Result{Key: key, Score: score})
		return
	}
	root := t.results[0]
	if score > root.Score || (score == root.Score && key < root.Key) {
		t.results[0] = Result{Key: key, Score: score}
		heap.Fix(t, 0)
	}
}
