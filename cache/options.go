package cache

import (
	"time"

	"github.com/IvanBrykalov/tiercache/policy"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity: pushed out to satisfy the size limit.
	EvictCapacity EvictReason = iota
	// EvictTTL: expired by a TTL decorator, lazily on access.
	EvictTTL
	// EvictEquivalent: replaced by an equivalent key on write.
	EvictEquivalent
)

// String returns a stable label for the reason.
func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	case EvictEquivalent:
		return "equivalent"
	default:
		return "capacity"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, size int64)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// SystemClock reads the wall clock.
type SystemClock struct{}

// NowUnixNano implements Clock.
func (SystemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Options configures a Memory cache. Zero values are safe except SizeLimit;
// defaults are applied in New():
//   - nil Sizer   => every value costs 1 (SizeLimit becomes an entry count)
//   - nil Policy  => LRU
//   - Shards <= 0 => auto (rounded up to power of two)
//   - nil Metrics => NoopMetrics
type Options[K comparable, V any] struct {
	// SizeLimit caps the summed size of strongly retained values.
	SizeLimit int64

	// Sizer measures a value. Negative sizes are treated as 0.
	Sizer Sizer[V]

	// Policy orders the strong tier for eviction; nil => LRU.
	Policy policy.Policy[K, V]

	// Shards is the number of reclaimable-map partitions. If 0, an automatic
	// value is chosen (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// Hash picks the reclaimable-map shard for a key. Nil => FNV-1a, which
	// supports strings, integers and fmt.Stringer keys.
	Hash func(K) uint64

	// OnEvict is called under the strong-tier lock when a value leaves the
	// strong tier for capacity reasons; keep callbacks lightweight.
	OnEvict func(k K, v V, reason EvictReason)
	Metrics Metrics
}
