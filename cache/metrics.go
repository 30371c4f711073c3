// SPDX-License-Identifier: EPL-2.0

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	bytes     prometheus.Gauge
	entries   prometheus.Gauge
}

// newMetrics registers the cache collectors with reg. A nil reg creates
// unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		hits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "audwave", Subsystem: "cache", Name: "hits_total",
			Help: "Waveform requests served from the cache.",
		}),
		misses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "audwave", Subsystem: "cache", Name: "misses_total",
			Help: "Waveform requests not found in the cache.",
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "audwave", Subsystem: "cache", Name: "evictions_total",
			Help: "Entries evicted to respect the byte ceiling or a shrink.",
		}),
		bytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "audwave", Subsystem: "cache", Name: "size_bytes",
			Help: "Estimated bytes held by cached waveforms.",
		}),
		entries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "audwave", Subsystem: "cache", Name: "entries",
			Help: "Number of cached waveforms.",
		}),
	}
}
