// Package metrics exposes the Prometheus instruments shared across the
// queue, pipeline, and credit layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument registered on one registry.
type Metrics struct {
	Registry *prometheus.Registry

	JobsProcessed   *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	CreditsDeducted prometheus.Counter
	CreditsRefunded prometheus.Counter
	QueueDepth      prometheus.Gauge
	RunningJobs     prometheus.Gauge
	EmbedCacheHits  prometheus.Counter
	EmbedCacheMiss  prometheus.Counter
}

// New creates a dedicated registry with all instruments registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediavault_jobs_processed_total",
			Help: "Jobs finished, by terminal status.",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediavault_job_duration_seconds",
			Help:    "Wall-clock job execution time.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
		CreditsDeducted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediavault_credits_deducted_total",
			Help: "Credits deducted across all tenants.",
		}),
		CreditsRefunded: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediavault_credits_refunded_total",
			Help: "Credits refunded across all tenants.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mediavault_queue_depth",
			Help: "Jobs currently queued.",
		}),
		RunningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mediavault_running_jobs",
			Help: "Jobs currently executing.",
		}),
		EmbedCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediavault_embedding_cache_hits_total",
			Help: "Embedding cache hits.",
		}),
		EmbedCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediavault_embedding_cache_misses_total",
			Help: "Embedding cache misses.",
		}),
	}
}
