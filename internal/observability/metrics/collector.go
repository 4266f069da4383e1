package metrics

import "github.com/prometheus/client_golang/prometheus"

// collectorGroup lets a metrics struct register as a single collector.
type collectorGroup []prometheus.Collector

// Describe implements prometheus.Collector.
func (g collectorGroup) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range g {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (g collectorGroup) Collect(ch chan<- prometheus.Metric) {
	for _, c := range g {
		c.Collect(ch)
	}
}
