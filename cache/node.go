package cache

// node is an intrusive doubly linked list element of the strong tier.
// box is the same pointer the reclaimable tier holds weakly, so the value
// stays collectable-proof exactly as long as the node is linked.
type node[K comparable, V any] struct {
	key K
	box *V

	// Intrusive list links: head is evicted last, tail first.
	prev *node[K, V]
	next *node[K, V]

	size int64
}

// Key returns the node key (part of policy.Node interface).
func (n *node[K, V]) Key() K { return n.key }

// Value returns the boxed value (part of policy.Node interface).
// The pointee is never written after admission.
func (n *node[K, V]) Value() *V { return n.box }
