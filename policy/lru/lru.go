// Package lru implements the least-recently-used eviction order.
package lru

import "github.com/IvanBrykalov/tiercache/policy"

// lru is a classic "move-to-front" Least-Recently-Used policy.
// It delegates list manipulation to policy.Hooks provided by the cache.
type lru[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type lruPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs LRU instances.
func New[K comparable, V any]() policy.Policy[K, V] { return lruPolicy[K, V]{} }

// New implements policy.Policy by binding cache hooks.
func (lruPolicy[K, V]) New(h policy.Hooks[K, V]) policy.Instance[K, V] {
	return &lru[K, V]{h: h}
}

// OnAdd places the new entry at MRU. The cache evicts from the back.
func (p *lru[K, V]) OnAdd(n policy.Node[K, V]) { p.h.PushFront(n) }

// OnGet promotes the entry to MRU; every read refreshes recency.
func (p *lru[K, V]) OnGet(n policy.Node[K, V]) { p.h.MoveToFront(n) }

// OnRemove is a no-op for pure LRU (nothing to clean up in policy state).
func (p *lru[K, V]) OnRemove(_ policy.Node[K, V]) {}

// Victim is the least recently used entry.
func (p *lru[K, V]) Victim() policy.Node[K, V] { return p.h.Back() }
