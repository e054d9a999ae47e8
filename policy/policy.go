// Package policy defines how a bounded cache orders its strongly retained
// entries for eviction. The cache always evicts from the back of its list;
// a policy decides where entries are placed, whether reads move them and
// which one goes next.
package policy

// Node is the minimal contract a cache entry must satisfy for a policy.
// It provides read-only access to the key and a pointer to the value.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks expose O(1) list operations that a policy can use to manipulate
// the cache's intrusive MRU/LRU list. Implementations are provided by the cache.
//
// Concurrency: all hook calls happen under the cache's strong-tier lock.
// Important: hooks manage only the list; the cache owns the key->node map.
type Hooks[K comparable, V any] interface {
	// MoveToFront promotes the node to the front (evicted last).
	MoveToFront(Node[K, V])
	// PushFront inserts the node at the front (used on admission).
	PushFront(Node[K, V])
	// Back returns the node at the back of the list (or nil if empty).
	Back() Node[K, V]
}

// Instance is a policy bound to one cache's hooks.
// All methods are invoked under the cache's strong-tier lock.
//
// Semantics:
//   - OnAdd must place the node in the list (typically PushFront).
//   - OnGet may reorder the node (LRU promotes, FIFO ignores reads).
//   - OnRemove is a notification; the cache performs actual unlinking.
//   - Victim names the next node to evict, or nil when the list is empty.
type Instance[K comparable, V any] interface {
	OnAdd(Node[K, V])
	OnGet(Node[K, V])
	OnRemove(Node[K, V])
	Victim() Node[K, V]
}

// Policy is a factory that creates cache-local policy instances
// bound to a particular cache's hooks.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) Instance[K, V]
}
