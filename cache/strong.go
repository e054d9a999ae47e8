package cache

import "github.com/IvanBrykalov/tiercache/policy"

// The strong tier is an intrusive list (head = evicted last, tail = evicted
// first) plus a key->node index and the running size. Every function in
// this file requires Memory.mu.

// insertFront inserts n at the head in O(1) and accounts its size.
func (c *Memory[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
	c.len++
	c.size += n.size
}

// moveToFront promotes n to the head in O(1).
func (c *Memory[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// unlink removes n from the list and the index and releases its size.
func (c *Memory[K, V]) unlink(n *node[K, V]) {
	c.pol.OnRemove(n)
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
	delete(c.m, n.key)
	c.len--
	c.size -= n.size
	if c.size < 0 {
		c.size = 0
	}
}

// evict unlinks n for capacity reasons. The reclaimable tier keeps its
// weak pointer, so the value stays readable until the GC collects it.
func (c *Memory[K, V]) evict(n *node[K, V], reason EvictReason) {
	c.unlink(n)
	c.evicts.Add(1)
	c.opt.Metrics.Evict(reason)
	if cb := c.opt.OnEvict; cb != nil {
		cb(n.key, *n.box, reason)
	}
}

// strongHooks adapts the list operations to policy.Hooks.
type strongHooks[K comparable, V any] struct{ c *Memory[K, V] }

func (h strongHooks[K, V]) MoveToFront(x policy.Node[K, V]) { h.c.moveToFront(x.(*node[K, V])) }
func (h strongHooks[K, V]) PushFront(x policy.Node[K, V])   { h.c.insertFront(x.(*node[K, V])) }
func (h strongHooks[K, V]) Back() policy.Node[K, V] {
	if h.c.tail == nil {
		return nil
	}
	return h.c.tail
}
