// Package metrics provides Prometheus metrics for the annotation store
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the annotation store
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Search cache metrics
	SearchesCreatedTotal   prometheus.Counter
	SearchCacheHitsTotal   prometheus.Counter
	SearchCacheMissTotal   prometheus.Counter
	SearchEvictionsTotal   prometheus.Counter
	SearchPagesServedTotal prometheus.Counter

	// Index chore metrics
	IndexChoresSubmittedTotal prometheus.Counter
	IndexChoresFinishedTotal  *prometheus.CounterVec

	// Storage metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// New creates all metrics registered against reg. Passing a fresh registry
// keeps tests isolated from the default one.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// HTTP request metrics
	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annostore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annostore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.HTTPRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "annostore_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Search cache metrics
	m.SearchesCreatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "annostore_searches_created_total",
			Help: "Total number of compiled searches created",
		},
	)

	m.SearchCacheHitsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "annostore_search_cache_hits_total",
			Help: "Total number of search cache hits",
		},
	)

	m.SearchCacheMissTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "annostore_search_cache_misses_total",
			Help: "Total number of search cache misses (absent or expired)",
		},
	)

	m.SearchEvictionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "annostore_search_evictions_total",
			Help: "Total number of searches evicted by capacity or TTL",
		},
	)

	m.SearchPagesServedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "annostore_search_pages_served_total",
			Help: "Total number of result pages served",
		},
	)

	// Index chore metrics
	m.IndexChoresSubmittedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "annostore_index_chores_submitted_total",
			Help: "Total number of index build chores submitted",
		},
	)

	m.IndexChoresFinishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annostore_index_chores_finished_total",
			Help: "Total number of index build chores finished",
		},
		[]string{"status"},
	)

	// Storage metrics
	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annostore_store_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annostore_store_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// Server metrics
	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "annostore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// StartUptimeUpdater periodically refreshes the uptime gauge until the
// process exits.
func (m *Metrics) StartUptimeUpdater() {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}()
}

// RecordHTTPRequest records an HTTP request with its status
func (m *Metrics) RecordHTTPRequest(route string, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordStoreOperation records a storage operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
