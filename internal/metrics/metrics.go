// Package metrics holds the worker's Prometheus instruments. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "annworker"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics is a self-contained registry plus the worker's instruments.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	indexItems    *prometheus.GaugeVec
	modelLoads    *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
}

// New creates a registry with process and Go runtime collectors plus the
// worker instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Requests handled, by type and result",
		}, []string{"type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "errors_total",
			Help:      "Failed requests, by error code",
		}, []string{"code"}),
		indexItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "items",
			Help:      "Records held by each index context",
		}, []string{"context"}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "model_loads_total",
			Help:      "Embedding model load attempts, by result",
		}, []string{"result"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was slow",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.errors,
		m.indexItems,
		m.modelLoads,
		m.eventsDropped,
	)
	return m
}

// Register adds an extra collector, such as the durable store's.
func (m *Metrics) Register(c prometheus.Collector) error {
	if m == nil || c == nil {
		return nil
	}
	return m.registry.Register(c)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one handled request. code is empty on success.
func (m *Metrics) ObserveRequest(reqType, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	if code != "" {
		result = ResultError
		m.errors.WithLabelValues(code).Inc()
	}
	m.requests.WithLabelValues(reqType, result).Inc()
	m.duration.WithLabelValues(reqType).Observe(elapsed.Seconds())
}

// SetIndexItems sets the record count of one context.
func (m *Metrics) SetIndexItems(contextName string, count int) {
	if m == nil {
		return
	}
	m.indexItems.WithLabelValues(contextName).Set(float64(count))
}

// ModelLoad records a model load attempt.
func (m *Metrics) ModelLoad(ok bool) {
	if m == nil {
		return
	}
	result := ResultOK
	if !ok {
		result = ResultError
	}
	m.modelLoads.WithLabelValues(result).Inc()
}

// EventDropped records an event a subscriber could not take.
func (m *Metrics) EventDropped(eventType string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}
