// Package observability provides Prometheus metrics for clipvault.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipvault/clipvault/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Store    *metrics.StoreMetrics
	OCR      *metrics.OCRMetrics
	Search   *metrics.SearchMetrics
}

// NewMetrics creates a registry with process collectors and every
// component's metrics.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	storeMetrics, err := metrics.NewStoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create store metrics: %w", err)
	}

	ocrMetrics, err := metrics.NewOCRMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR metrics: %w", err)
	}

	searchMetrics, err := metrics.NewSearchMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create search metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Store:    storeMetrics,
		OCR:      ocrMetrics,
		Search:   searchMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
