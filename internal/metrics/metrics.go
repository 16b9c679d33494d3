// Package metrics provides Prometheus collectors for the vocalytics
// read API and migration tool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "vocalytics"

// Manager owns a private registry and the collectors registered
// on it. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	goCollectors     bool
	registry         *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
	storeRetries  prometheus.Counter

	migratedRows *prometheus.CounterVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom latency buckets (seconds).
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithGoCollectors also exports Go runtime and process metrics.
func WithGoCollectors() Option {
	return func(m *Manager) { m.goCollectors = true }
}

// NewManager creates a Manager with its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        defaultNamespace,
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint, method and status code",
		},
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by endpoint",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint"},
	)

	m.queryDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Store query latency by query name",
			Buckets:   m.histogramBuckets,
		},
		[]string{"query"},
	)
	m.queryErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "store",
			Name:      "query_errors_total",
			Help:      "Failed store queries by query name",
		},
		[]string{"query"},
	)
	m.storeRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "retries_total",
		Help:      "Store operations retried after a connectivity error",
	})

	m.migratedRows = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "migrate",
			Name:      "rows_total",
			Help:      "Rows committed to the destination store by table",
		},
		[]string{"table"},
	)

	if m.goCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest counts one request and observes its latency.
func (m *Manager) RecordHTTPRequest(
	endpoint, method, statusCode string, d time.Duration,
) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveQuery records a store query's latency and outcome.
func (m *Manager) ObserveQuery(query string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(query).Observe(d.Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(query).Inc()
	}
}

// RecordRetry counts one retried store operation.
func (m *Manager) RecordRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

// AddMigratedRows adds n committed rows for table.
func (m *Manager) AddMigratedRows(table string, n int) {
	if m == nil {
		return
	}
	m.migratedRows.WithLabelValues(table).Add(float64(n))
}
