package cache

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/tiercache/internal/util"
	"github.com/IvanBrykalov/tiercache/policy"
	"github.com/IvanBrykalov/tiercache/policy/lru"
)

// Memory is a size-bounded cache of decoded values with two tiers:
//
//   - the strong tier keeps the most recently admitted values, up to
//     SizeLimit, in an order chosen by the policy (LRU by default);
//   - the reclaimable tier weakly references every value ever Put, so
//     values pushed out of the strong tier stay readable until the Go
//     garbage collector frees them.
//
// All methods are safe for concurrent use by multiple goroutines.
type Memory[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu   sync.Mutex
	m    map[K]*node[K, V]
	head *node[K, V]
	tail *node[K, V]
	len  int
	size int64
	pol  policy.Instance[K, V]

	limit  int64
	weak   *reclaimable[K, V]
	opt    Options[K, V]
	closed atomic.Bool

	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicInt64
}

// Stats is a point-in-time snapshot of a Memory cache.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int   // strongly retained entries
	Size      int64 // summed size of strongly retained entries
	Limit     int64
}

var _ MemoryCache[string, int] = (*Memory[string, int])(nil)

// New constructs a Memory cache with the provided Options.
// Defaults:
//   - nil Sizer   -> 1 per value
//   - nil Metrics -> NoopMetrics
//   - nil Policy  -> LRU
//   - nil Hash    -> FNV-1a
func New[K comparable, V any](opt Options[K, V]) *Memory[K, V] {
	if opt.SizeLimit <= 0 {
		panic("SizeLimit must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K, V]()
	}
	if opt.Hash == nil {
		opt.Hash = util.Fnv64a[K]
	}

	c := &Memory[K, V]{
		m:     make(map[K]*node[K, V]),
		limit: opt.SizeLimit,
		weak:  newReclaimable[K, V](opt.Shards, opt.Hash),
		opt:   opt,
	}
	c.pol = opt.Policy.New(strongHooks[K, V]{c: c})
	return c
}

// Put stores k→v in the reclaimable tier and, if the value is smaller than
// the size limit, admits it to the strong tier after evicting enough entries
// to make room. It returns false when the value was too large for the strong
// tier; such a value is still readable until the GC reclaims it.
func (c *Memory[K, V]) Put(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	size := c.sizeOf(v)
	box := new(V)
	*box = v

	c.mu.Lock()
	defer c.mu.Unlock()

	// A re-put replaces the old strong entry; its size must not count twice.
	if old, ok := c.m[k]; ok {
		c.unlink(old)
	}
	if size >= c.limit {
		c.weak.store(k, box)
		c.opt.Metrics.Size(c.len, c.size)
		return false
	}

	for c.size+size > c.limit {
		victim, ok := c.pol.Victim().(*node[K, V])
		if !ok || victim == nil {
			break
		}
		c.evict(victim, EvictCapacity)
	}

	n := &node[K, V]{key: k, box: box, size: size}
	c.m[k] = n
	c.pol.OnAdd(n)
	c.weak.store(k, box)
	c.opt.Metrics.Size(c.len, c.size)
	return true
}

// Get returns the value for k. A value that was reclaimed by the runtime is
// reported as a miss. On a strong-tier hit the policy may reorder the entry.
func (c *Memory[K, V]) Get(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	box, ok := c.weak.load(k)
	if !ok {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return zero, false
	}

	c.mu.Lock()
	if n, ok := c.m[k]; ok && n.box == box {
		c.pol.OnGet(n)
	}
	c.mu.Unlock()

	c.hits.Add(1)
	c.opt.Metrics.Hit()
	return *box, true
}

// Remove deletes k from both tiers.
func (c *Memory[K, V]) Remove(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.m[k]; ok {
		c.unlink(n)
	}
	c.weak.drop(k)
	c.opt.Metrics.Size(c.len, c.size)
}

// Keys returns every key whose value is still retrievable.
func (c *Memory[K, V]) Keys() []K {
	return c.weak.keys()
}

// Clear drops both tiers.
func (c *Memory[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.m)
	c.head, c.tail = nil, nil
	c.len = 0
	c.size = 0
	c.pol = c.opt.Policy.New(strongHooks[K, V]{c: c})
	c.weak.clear()
	c.opt.Metrics.Size(0, 0)
}

// Size returns the summed size of strongly retained values.
func (c *Memory[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of strongly retained values.
func (c *Memory[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.len
}

// Stats returns counters and the current strong-tier occupancy.
func (c *Memory[K, V]) Stats() Stats {
	c.mu.Lock()
	entries, size := c.len, c.size
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Entries:   entries,
		Size:      size,
		Limit:     c.limit,
	}
}

// Close marks the cache as closed. Future Put/Get calls are ignored.
func (c *Memory[K, V]) Close() error {
	c.closed.Store(true)
	return nil
}

// sizeOf applies the Sizer (1 per value when unset), clamping negatives to 0.
func (c *Memory[K, V]) sizeOf(v V) int64 {
	if c.opt.Sizer == nil {
		return 1
	}
	s := int64(c.opt.Sizer(v))
	if s < 0 {
		s = 0
	}
	return s
}
