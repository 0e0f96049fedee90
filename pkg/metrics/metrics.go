// Package metrics exposes Prometheus collectors for the browser API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "browser_api"

// Metrics holds all Prometheus metrics for the service. It implements
// session.Observer.
type Metrics struct {
	// Session metrics
	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionDuration prometheus.Histogram
	pagesCreated    prometheus.Counter

	// Engine metrics
	engineOps      *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry

	mu      sync.Mutex
	started map[string]time.Time
}

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live browser sessions",
		}),

		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_launched_total",
			Help:      "Total number of browser sessions launched",
		}),

		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of closed browser sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}),

		pagesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_created_total",
			Help:      "Total number of pages opened across sessions",
		}),

		engineOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_operations_total",
			Help:      "Browser engine operations by operation and status",
		}, []string{"operation", "status"}),

		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_operation_duration_seconds",
			Help:      "Browser engine operation latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),

		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		registry: registry,
		started:  make(map[string]time.Time),
	}

	registry.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.sessionDuration,
		m.pagesCreated,
		m.engineOps,
		m.engineDuration,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// SessionLaunched records a new session.
func (m *Metrics) SessionLaunched(sessionID string) {
	m.mu.Lock()
	m.started[sessionID] = time.Now()
	m.mu.Unlock()

	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed records a session closure and its lifetime.
func (m *Metrics) SessionClosed(sessionID string) {
	m.mu.Lock()
	start, ok := m.started[sessionID]
	delete(m.started, sessionID)
	m.mu.Unlock()

	m.sessionsActive.Dec()
	if ok {
		m.sessionDuration.Observe(time.Since(start).Seconds())
	}
}

// PageCreated records a new page.
func (m *Metrics) PageCreated(sessionID, pageID string) {
	m.pagesCreated.Inc()
}

// RecordHTTPRequest records an HTTP request. route is the matched route pattern, not
// the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OperationTimer measures one engine operation.
type OperationTimer struct {
	start     time.Time
	metrics   *Metrics
	operation string
}

// StartOperation begins timing an engine operation. A nil *Metrics yields a timer
// that records nothing.
func (m *Metrics) StartOperation(operation string) *OperationTimer {
	return &OperationTimer{start: time.Now(), metrics: m, operation: operation}
}

// Done records the operation outcome.
func (t *OperationTimer) Done(err error) {
	if t == nil || t.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	t.metrics.engineOps.WithLabelValues(t.operation, status).Inc()
	t.metrics.engineDuration.WithLabelValues(t.operation).Observe(time.Since(t.start).Seconds())
}
