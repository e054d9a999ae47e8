package decorator

import (
	"os"
	"sync"
	"time"

	"github.com/IvanBrykalov/tiercache/cache"
)

// TTLMemory expires entries older than maxAge. Age counts from the last
// successful Put; expiry is lazy and happens on Get.
type TTLMemory[K comparable, V any] struct {
	inner  cache.MemoryCache[K, V]
	maxAge int64 // nanos
	opt    Options

	mu    sync.Mutex
	born  map[K]int64
	prune int // len(born) that triggers the next prune pass
}

var _ cache.MemoryCache[string, int] = (*TTLMemory[string, int])(nil)

// NewTTLMemory wraps inner with a time-to-live.
func NewTTLMemory[K comparable, V any](inner cache.MemoryCache[K, V], maxAge time.Duration, opt Options) *TTLMemory[K, V] {
	return &TTLMemory[K, V]{
		inner:  inner,
		maxAge: int64(maxAge),
		opt:    opt.withDefaults(),
		born:   make(map[K]int64),
	}
}

// Put stores k→v and stamps it when the inner cache admitted it. A rejected
// value carries no stamp, so it never expires here.
func (c *TTLMemory[K, V]) Put(k K, v V) bool {
	ok := c.inner.Put(k, v)
	c.mu.Lock()
	if ok {
		c.born[k] = c.opt.Clock.NowUnixNano()
		pruneStamps(c.born, &c.prune, c.inner.Keys)
	} else {
		delete(c.born, k)
	}
	c.mu.Unlock()
	return ok
}

// Get removes k first when it is older than maxAge, then delegates; an
// expired key therefore reads as a miss.
func (c *TTLMemory[K, V]) Get(k K) (V, bool) {
	if c.expire(k) {
		c.inner.Remove(k)
		c.opt.Metrics.Evict(cache.EvictTTL)
	}
	return c.inner.Get(k)
}

func (c *TTLMemory[K, V]) expire(k K) bool {
	now := c.opt.Clock.NowUnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.born[k]
	if !ok || now-t <= c.maxAge {
		return false
	}
	delete(c.born, k)
	return true
}

// Remove deletes k from the inner cache and forgets its stamp.
func (c *TTLMemory[K, V]) Remove(k K) {
	c.mu.Lock()
	delete(c.born, k)
	c.mu.Unlock()
	c.inner.Remove(k)
}

func (c *TTLMemory[K, V]) Keys() []K { return c.inner.Keys() }

// Clear empties the inner cache and all stamps.
func (c *TTLMemory[K, V]) Clear() {
	c.mu.Lock()
	clear(c.born)
	c.mu.Unlock()
	c.inner.Clear()
}

// TTLDisk expires disk entries older than maxAge. Get of an expired key
// deletes the file and still returns its path, as every DiskCache Get does;
// callers detect expiry by the file being absent.
//
// Keys never Put in this process are stamped on first Get with the file's
// modification time, so entries left by an earlier run age out too. That
// time is the last use, not the insertion: the disk tier rewrites mtime on
// every read, so across a restart a file's age counts from its last read.
// Within one process reads never extend an entry's life.
type TTLDisk struct {
	inner  cache.DiskCache
	maxAge int64
	opt    Options

	mu    sync.Mutex
	born  map[string]int64
	prune int
}

var _ cache.DiskCache = (*TTLDisk)(nil)

// NewTTLDisk wraps inner with a time-to-live.
func NewTTLDisk(inner cache.DiskCache, maxAge time.Duration, opt Options) *TTLDisk {
	return &TTLDisk{
		inner:  inner,
		maxAge: int64(maxAge),
		opt:    opt.withDefaults(),
		born:   make(map[string]int64),
	}
}

// Put registers path and stamps key when the inner cache accepted it.
func (c *TTLDisk) Put(key, path string) error {
	if err := c.inner.Put(key, path); err != nil {
		return err
	}
	c.mu.Lock()
	c.born[key] = c.opt.Clock.NowUnixNano()
	pruneStamps(c.born, &c.prune, c.inner.Keys)
	c.mu.Unlock()
	return nil
}

// Get deletes an expired entry, then delegates.
func (c *TTLDisk) Get(key string) string {
	if c.expire(key) {
		c.inner.Remove(key)
		c.opt.Metrics.Evict(cache.EvictTTL)
	}
	return c.inner.Get(key)
}

func (c *TTLDisk) expire(key string) bool {
	now := c.opt.Clock.NowUnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.born[key]
	if !ok {
		// Stat before the inner Get refreshes the mtime.
		info, err := os.Stat(c.inner.Path(key))
		if err != nil {
			return false
		}
		t = info.ModTime().UnixNano()
		c.born[key] = t
	}
	if now-t <= c.maxAge {
		return false
	}
	delete(c.born, key)
	return true
}

func (c *TTLDisk) Path(key string) string { return c.inner.Path(key) }
func (c *TTLDisk) Keys() []string         { return c.inner.Keys() }

// Remove deletes the entry and forgets its stamp.
func (c *TTLDisk) Remove(key string) bool {
	c.mu.Lock()
	delete(c.born, key)
	c.mu.Unlock()
	return c.inner.Remove(key)
}

// Clear deletes every file and all stamps.
func (c *TTLDisk) Clear() error {
	c.mu.Lock()
	clear(c.born)
	c.mu.Unlock()
	return c.inner.Clear()
}

// minPrune is the smallest stamp map that is ever pruned.
const minPrune = 64

// pruneStamps drops stamps of keys the inner cache no longer holds, such as
// capacity evictions it made on its own. It runs once born has doubled since
// the previous pass, so Put stays amortized O(1). Caller holds the lock.
func pruneStamps[K comparable](born map[K]int64, next *int, keys func() []K) {
	if len(born) < max(*next, minPrune) {
		return
	}
	live := make(map[K]struct{}, len(born))
	for _, k := range keys() {
		live[k] = struct{}{}
	}
	for k := range born {
		if _, ok := live[k]; !ok {
			delete(born, k)
		}
	}
	*next = 2 * len(born)
}
