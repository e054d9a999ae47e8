// Package decorator wraps a cache.MemoryCache or cache.DiskCache with extra
// write or read rules. Decorators hold the inner cache by interface and
// delegate to it, so any cache can be wrapped by any combination of them:
//
//	mem := decorator.NewTTLMemory(
//	    decorator.NewKeyEquivalentMemory(cache.New(opt), sameSource, decorator.Options{}),
//	    10*time.Minute, decorator.Options{})
package decorator

import "github.com/IvanBrykalov/tiercache/cache"

// Options are shared by every decorator.
//   - nil Clock   => cache.SystemClock
//   - nil Metrics => cache.NoopMetrics (only Evict is reported)
type Options struct {
	Clock   cache.Clock
	Metrics cache.Metrics
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = cache.SystemClock{}
	}
	if o.Metrics == nil {
		o.Metrics = cache.NoopMetrics{}
	}
	return o
}

// Equivalence reports whether two keys name the same cached resource, for
// example one source decoded at two target sizes.
type Equivalence[K any] func(a, b K) bool
