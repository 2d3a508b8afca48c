// Package metrics holds the prometheus collectors of a run. A batch run has
// no scrape endpoint, so the registry is written to a node_exporter textfile
// when the run ends.
//
// All methods are safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gratsample"

type Metrics struct {
	registry        *prometheus.Registry
	cacheRequests   *prometheus.CounterVec
	featureFailures *prometheus.CounterVec
	stepRows        *prometheus.GaugeVec
	apiRequests     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Table cache lookups by namespace and result (hit, miss).",
		}, []string{"namespace", "result"}),
		featureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_failures_total",
			Help:      "Per-row feature computations that failed and were recorded as null.",
		}, []string{"feature"}),
		stepRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_rows",
			Help:      "Population size after each pipeline step.",
		}, []string{"dataset", "step"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Outbound API requests by service and outcome.",
		}, []string{"service", "outcome"}),
	}
	m.registry.MustRegister(m.cacheRequests, m.featureFailures, m.stepRows, m.apiRequests)
	return m
}

// Registry exposes the underlying registry (for tests and custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheResult(ns, result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(ns, result).Inc()
}

func (m *Metrics) FeatureFailure(feature string) {
	if m == nil {
		return
	}
	m.featureFailures.WithLabelValues(feature).Inc()
}

func (m *Metrics) StepRows(dataset, step string, rows int) {
	if m == nil {
		return
	}
	m.stepRows.WithLabelValues(dataset, step).Set(float64(rows))
}

func (m *Metrics) APIRequest(service, outcome string) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(service, outcome).Inc()
}

// WriteTextfile writes the registry in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
