package cache

// MemoryCache is the contract for caches of decoded, in-process values.
// All methods are safe for concurrent use by multiple goroutines.
//
// A miss is reported as (zero, false). Values may disappear between a Put
// and a later Get without any explicit removal (see Memory); callers must
// treat that as an ordinary miss.
type MemoryCache[K comparable, V any] interface {
	// Put stores k→v. It returns false when the value was kept only in
	// the reclaimable tier (e.g. it is larger than the size limit).
	Put(k K, v V) bool

	// Get returns the value for k and a presence flag.
	Get(k K) (V, bool)

	// Remove deletes k from every tier.
	Remove(k K)

	// Keys returns the currently retrievable keys (no duplicates).
	Keys() []K

	// Clear drops every entry.
	Clear()
}

// DiskCache is the contract for caches of encoded bytes stored as files.
// All methods are safe for concurrent use by multiple goroutines.
//
// The usual flow is: Get(key) → write bytes to the returned path (if the
// file is absent or stale) → Put(key, path).
type DiskCache interface {
	// Path returns the deterministic file path for key without touching
	// any bookkeeping.
	Path(key string) string

	// Get returns the deterministic file path for key, whether or not a
	// file exists there, and stamps the entry as just used.
	// It never returns an empty string.
	Get(key string) string

	// Put registers a file the caller has already written at path.
	Put(key, path string) error

	// Remove deletes the file for key. It reports whether an entry was known.
	Remove(key string) bool

	// Keys returns the keys registered through Put by this process.
	Keys() []string

	// Clear deletes every file in the cache directory.
	Clear() error
}

// Sizer reports the logical size of an in-memory value (usually bytes).
type Sizer[V any] func(v V) int
