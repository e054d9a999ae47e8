// Package prom exports cache.Metrics as Prometheus collectors. Each tier gets
// its own Adapter, told apart by the constant "tier" label.
package prom

import (
	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Tier label values used by the loader.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Adapter implements cache.Metrics on top of Prometheus collectors.
// All Prometheus metric types are goroutine-safe, and so is Adapter.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	evicts  *prometheus.CounterVec
	entries prometheus.Gauge
	bytes   prometheus.Gauge
}

var _ cache.Metrics = (*Adapter)(nil)

// New registers the collectors for one tier.
//   - reg: registry (nil => prometheus.DefaultRegisterer)
//   - ns:  namespace, e.g. "tiercache"
//   - tier: value of the constant "tier" label
func New(reg prometheus.Registerer, ns, tier string) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"tier": tier}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: name, Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: name, Help: help, ConstLabels: labels,
		})
	}

	a := &Adapter{
		hits:   counter("hits_total", "Cache lookups that found an entry."),
		misses: counter("misses_total", "Cache lookups that found nothing."),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "evictions_total",
			Help:        "Entries removed by the cache, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		entries: gauge("entries", "Entries counted against the limit."),
		bytes:   gauge("size", "Summed size of entries counted against the limit."),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.entries, a.bytes)
	return a
}

func (a *Adapter) Hit()  { a.hits.Inc() }
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict counts one eviction under the reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size sets the occupancy gauges.
func (a *Adapter) Size(entries int, size int64) {
	a.entries.Set(float64(entries))
	a.bytes.Set(float64(size))
}
