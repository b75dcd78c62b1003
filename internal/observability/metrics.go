// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Batch metrics
	EntitiesProcessed prometheus.Counter
	EntitiesFailed    *prometheus.CounterVec
	RowsWritten       *prometheus.CounterVec
	RetryAttempts     prometheus.Counter

	// Latency metrics
	BatchDuration  prometheus.Histogram
	EntityDuration prometheus.Histogram

	// Health metrics
	LastSuccessfulBatch prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ema_feature_lab"
	}

	return &Metrics{
		EntitiesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "entities_processed_total",
			Help:      "Total number of entities computed successfully",
		}),
		EntitiesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "entities_failed_total",
			Help:      "Total number of entity failures by class",
		}, []string{"class"}),
		RowsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "rows_written_total",
			Help:      "Total EMA rows written by kind (canonical/preview)",
		}, []string{"kind"}),
		RetryAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "retry_attempts_total",
			Help:      "Total connection-pressure retries across all entities",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of whole batches",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		EntityDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "entity_duration_seconds",
			Help:      "Wall-clock duration of single entity updates",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		LastSuccessfulBatch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_batch_timestamp_seconds",
			Help:      "Unix timestamp of the last completed batch",
		}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts an HTTP server exposing /metrics on addr. Blocking.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
