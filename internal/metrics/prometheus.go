package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector exports store activity through its own registry.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	indexSize         *prometheus.GaugeVec
	registry          *prometheus.Registry
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector with a fresh registry.
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxstore_operations_total",
			Help: "Total number of store operations by type and status",
		},
		[]string{"operation", "status"},
	)
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctxstore_operation_duration_seconds",
			Help:    "Duration of store operations by type",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxstore_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)
	indexSize := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctxstore_index_size",
			Help: "Current size of the in-memory index by kind",
		},
		[]string{"kind"},
	)

	registry.MustRegister(operationsTotal, operationDuration, errorsTotal, indexSize)

	return &PrometheusCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		indexSize:         indexSize,
		registry:          registry,
	}
}

// RecordOperation counts an operation and observes its duration.
func (m *PrometheusCollector) RecordOperation(_ context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(float64(durationMs) / 1000.0)
}

// RecordError counts an error occurrence.
func (m *PrometheusCollector) RecordError(_ context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetIndexSize sets the gauge for one index kind (chunks, keywords, buckets, recent).
func (m *PrometheusCollector) SetIndexSize(_ context.Context, kind string, count int64) {
	m.indexSize.WithLabelValues(kind).Set(float64(count))
}

// Registry returns the Prometheus registry.
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
