package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingest pipeline metrics
	IngestTotal       *prometheus.CounterVec // Outcome-labelled ingest attempts
	TraversalHops     prometheus.Histogram   // Hops taken per resolution attempt
	TraversalDuration prometheus.Histogram   // Wall time per resolution attempt
	FetchedBytes      prometheus.Histogram   // Body bytes downloaded per hop

	// Storage operation metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_attempts_total",
			Help: "Total number of ingest attempts by outcome",
		}, []string{"outcome"}),

		TraversalHops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_traversal_hops",
			Help:    "Traversal hops taken per resolution attempt",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
		}),

		TraversalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_traversal_duration_seconds",
			Help:    "Resolution attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		FetchedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_fetched_bytes",
			Help:    "Response body bytes downloaded per hop",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		EventPublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "event_publish_duration_seconds",
			Help:    "Event publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "status"}),
	}

	// Register metrics with the default registry
	registerMetrics(m)

	// Store as global instance
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.IngestTotal)
	registerOrGet(m.TraversalHops)
	registerOrGet(m.TraversalDuration)
	registerOrGet(m.FetchedBytes)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.EventPublishTotal)
	registerOrGet(m.EventPublishDuration)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
