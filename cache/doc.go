// Package cache holds the contracts shared by both cache tiers (MemoryCache,
// DiskCache, Metrics, Clock) and the bounded in-memory tier, Memory.
//
// Design
//
//   - Two tiers: Memory keeps a strong, size-bounded list of recently
//     admitted values and a reclaimable map of weak pointers to every value
//     it was given. Leaving the strong tier does not remove a value from the
//     reclaimable map; it only makes the value collectable by the GC.
//
//   - Sizing: Options.Sizer measures a value (bytes for images). A value
//     whose size is >= SizeLimit never enters the strong tier and Put
//     returns false. Without a Sizer every value costs 1, which turns
//     SizeLimit into an entry count.
//
//   - Policies: eviction order is pluggable via the policy package. LRU is
//     the default (reads promote); FIFO is available (reads never reorder).
//
//   - Concurrency: the strong tier and its size counter sit behind one
//     mutex, so Put's check-then-evict sequence is atomic with respect to
//     other Put/Remove calls. The reclaimable map is sharded with its own
//     RWMutex per shard. A Get followed by a Put of the same key is not
//     atomic as a pair; coalescing duplicate loads is the caller's job.
//
//   - Misses: a value reclaimed by the runtime reads as (zero, false),
//     never as an error.
//
// Basic usage
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    SizeLimit: 64 << 20,
//	    Sizer:     func(b []byte) int { return len(b) },
//	})
//	c.Put("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v
//	}
//
// Decorators adding key equivalence and time-to-live live in package
// decorator; the disk tier lives in package disk.
package cache
