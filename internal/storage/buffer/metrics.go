package buffer

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges a BufferPoolManager publishes.
// Labeled by instance so multiple pools coexisting in one process stay
// distinguishable.
type Metrics struct {
	hits            prometheus.Counter
	misses          prometheus.Counter
	evictions       prometheus.Counter
	flushes         prometheus.Counter
	poolUtilization prometheus.Gauge
}

// NewMetrics registers a fresh Metrics against reg, labeled with
// instanceID. reg may be nil, in which case the counters are created but
// never registered (useful for tests that don't care about scraping).
func NewMetrics(reg prometheus.Registerer, instanceID string) *Metrics {
	labels := prometheus.Labels{"instance": instanceID}
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pagevault",
			Subsystem:   "buffer_pool",
			Name:        "hits_total",
			Help:        "Number of fetch_page calls satisfied without a disk read.",
			ConstLabels: labels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pagevault",
			Subsystem:   "buffer_pool",
			Name:        "misses_total",
			Help:        "Number of fetch_page calls that required a disk read or failed to find a frame.",
			ConstLabels: labels,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pagevault",
			Subsystem:   "buffer_pool",
			Name:        "evictions_total",
			Help:        "Number of frames reclaimed via the replacer rather than the free list.",
			ConstLabels: labels,
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pagevault",
			Subsystem:   "buffer_pool",
			Name:        "flushes_total",
			Help:        "Number of pages written back to disk, including eviction write-backs.",
			ConstLabels: labels,
		}),
		poolUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pagevault",
			Subsystem:   "buffer_pool",
			Name:        "utilization_ratio",
			Help:        "Fraction of frames currently holding a page.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.evictions, m.flushes, m.poolUtilization)
	}
	return m
}
