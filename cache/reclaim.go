package cache

import (
	"sync"
	"weak"

	"github.com/IvanBrykalov/tiercache/internal/util"
)

// reclaimable is the tier the Go runtime may empty behind the cache's back:
// a sharded map of weak pointers to boxed values. A box survives while the
// strong tier (or anyone else) references it; after that the next GC cycle
// may clear the pointer and the key reads as a miss.
type reclaimable[K comparable, V any] struct {
	shards []*weakShard[K, V]
	hash   func(K) uint64
}

type weakShard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]weak.Pointer[V]
}

func newReclaimable[K comparable, V any](shards int, hash func(K) uint64) *reclaimable[K, V] {
	n := util.ShardCount(shards)
	r := &reclaimable[K, V]{shards: make([]*weakShard[K, V], n), hash: hash}
	for i := range r.shards {
		r.shards[i] = &weakShard[K, V]{m: make(map[K]weak.Pointer[V])}
	}
	return r
}

func (r *reclaimable[K, V]) shard(k K) *weakShard[K, V] {
	return r.shards[util.ShardIndex(r.hash(k), len(r.shards))]
}

func (r *reclaimable[K, V]) store(k K, box *V) {
	s := r.shard(k)
	s.mu.Lock()
	s.m[k] = weak.Make(box)
	s.mu.Unlock()
}

// load returns the live box for k. A cleared pointer is purged lazily.
func (r *reclaimable[K, V]) load(k K) (*V, bool) {
	s := r.shard(k)
	s.mu.RLock()
	p, ok := s.m[k]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if box := p.Value(); box != nil {
		return box, true
	}
	s.mu.Lock()
	if cur, ok := s.m[k]; ok && cur == p {
		delete(s.m, k)
	}
	s.mu.Unlock()
	return nil, false
}

func (r *reclaimable[K, V]) drop(k K) {
	s := r.shard(k)
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
}

// keys lists keys whose values are still alive.
func (r *reclaimable[K, V]) keys() []K {
	var out []K
	for _, s := range r.shards {
		s.mu.RLock()
		for k, p := range s.m {
			if p.Value() != nil {
				out = append(out, k)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *reclaimable[K, V]) clear() {
	for _, s := range r.shards {
		s.mu.Lock()
		clear(s.m)
		s.mu.Unlock()
	}
}
