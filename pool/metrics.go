// SPDX-License-Identifier: EPL-2.0

package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes used as the "outcome" label.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeCrashed   = "crashed"
)

type metrics struct {
	workers  prometheus.Gauge
	busy     prometheus.Gauge
	queued   prometheus.Gauge
	tasks    *prometheus.CounterVec
	duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	m := &metrics{
		workers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "audwave", Subsystem: "pool", Name: "workers",
			Help: "Worker units alive.",
		}),
		busy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "audwave", Subsystem: "pool", Name: "busy_workers",
			Help: "Worker units running a task.",
		}),
		queued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "audwave", Subsystem: "pool", Name: "queued_tasks",
			Help: "Decodes waiting for admission or for a worker.",
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audwave", Subsystem: "pool", Name: "tasks_total",
			Help: "Tasks finished, by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "audwave", Subsystem: "pool", Name: "processing_seconds",
			Help:    "Time from dispatch to result for each decode.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	for _, o := range []string{outcomeCompleted, outcomeFailed, outcomeCancelled, outcomeCrashed} {
		m.tasks.WithLabelValues(o)
	}
	return m
}
