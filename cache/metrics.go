package cache

// NoopMetrics discards every observation. New and the disk tier use it when
// no Metrics are configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                         {}
func (NoopMetrics) Miss()                        {}
func (NoopMetrics) Evict(EvictReason)            {}
func (NoopMetrics) Size(entries int, size int64) {}

var _ Metrics = NoopMetrics{}
