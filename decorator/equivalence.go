package decorator

import (
	"sync"

	"github.com/IvanBrykalov/tiercache/cache"
)

// KeyEquivalentMemory removes one entry equivalent to the incoming key before
// every Put. Only the first equivalent key found is removed; if several are
// already cached, the rest stay. Reads are not equivalence-aware.
type KeyEquivalentMemory[K comparable, V any] struct {
	inner cache.MemoryCache[K, V]
	eq    Equivalence[K]
	opt   Options
	mu    sync.Mutex
}

var _ cache.MemoryCache[string, int] = (*KeyEquivalentMemory[string, int])(nil)

// NewKeyEquivalentMemory wraps inner with write-time key equivalence.
func NewKeyEquivalentMemory[K comparable, V any](inner cache.MemoryCache[K, V], eq Equivalence[K], opt Options) *KeyEquivalentMemory[K, V] {
	return &KeyEquivalentMemory[K, V]{inner: inner, eq: eq, opt: opt.withDefaults()}
}

// Put removes the first cached key equivalent to k (other than k itself)
// and stores k→v.
func (c *KeyEquivalentMemory[K, V]) Put(k K, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, old := range c.inner.Keys() {
		if old != k && c.eq(old, k) {
			c.inner.Remove(old)
			c.opt.Metrics.Evict(cache.EvictEquivalent)
			break
		}
	}
	return c.inner.Put(k, v)
}

func (c *KeyEquivalentMemory[K, V]) Get(k K) (V, bool) { return c.inner.Get(k) }
func (c *KeyEquivalentMemory[K, V]) Remove(k K)        { c.inner.Remove(k) }
func (c *KeyEquivalentMemory[K, V]) Keys() []K         { return c.inner.Keys() }
func (c *KeyEquivalentMemory[K, V]) Clear()            { c.inner.Clear() }

// KeyEquivalentDisk is the disk counterpart of KeyEquivalentMemory. Only keys
// registered through Put are candidates.
type KeyEquivalentDisk struct {
	inner cache.DiskCache
	eq    Equivalence[string]
	opt   Options
	mu    sync.Mutex
}

var _ cache.DiskCache = (*KeyEquivalentDisk)(nil)

// NewKeyEquivalentDisk wraps inner with write-time key equivalence.
func NewKeyEquivalentDisk(inner cache.DiskCache, eq Equivalence[string], opt Options) *KeyEquivalentDisk {
	return &KeyEquivalentDisk{inner: inner, eq: eq, opt: opt.withDefaults()}
}

// Put removes the first registered key equivalent to key, then registers
// path. A key whose file is path itself (a name collision) is never removed.
func (c *KeyEquivalentDisk) Put(key, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, old := range c.inner.Keys() {
		if old == key || !c.eq(old, key) || c.inner.Path(old) == path {
			continue
		}
		c.inner.Remove(old)
		c.opt.Metrics.Evict(cache.EvictEquivalent)
		break
	}
	return c.inner.Put(key, path)
}

func (c *KeyEquivalentDisk) Path(key string) string { return c.inner.Path(key) }
func (c *KeyEquivalentDisk) Get(key string) string  { return c.inner.Get(key) }
func (c *KeyEquivalentDisk) Remove(key string) bool { return c.inner.Remove(key) }
func (c *KeyEquivalentDisk) Keys() []string         { return c.inner.Keys() }
func (c *KeyEquivalentDisk) Clear() error           { return c.inner.Clear() }
