// Package fifo implements first-in-first-out eviction order: entries leave
// the cache in insertion order and reads never change that order.
package fifo

import "github.com/IvanBrykalov/tiercache/policy"

type fifo[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type fifoPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs FIFO instances.
func New[K comparable, V any]() policy.Policy[K, V] { return fifoPolicy[K, V]{} }

func (fifoPolicy[K, V]) New(h policy.Hooks[K, V]) policy.Instance[K, V] {
	return &fifo[K, V]{h: h}
}

// OnAdd appends the entry at the front; the oldest admission sits at the back.
func (p *fifo[K, V]) OnAdd(n policy.Node[K, V]) { p.h.PushFront(n) }

// OnGet leaves insertion order untouched.
func (p *fifo[K, V]) OnGet(_ policy.Node[K, V]) {}

func (p *fifo[K, V]) OnRemove(_ policy.Node[K, V]) {}

// Victim is the oldest admission.
func (p *fifo[K, V]) Victim() policy.Node[K, V] { return p.h.Back() }
