package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SearchMetrics tracks retrieval. All methods are safe on a nil receiver.
type SearchMetrics struct {
	collectorGroup

	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram
	roundTrips    prometheus.Histogram
	colorVerdicts *prometheus.CounterVec
	cacheHits     prometheus.Counter
}

// NewSearchMetrics creates and registers search metrics.
func NewSearchMetrics(registry prometheus.Registerer) (*SearchMetrics, error) {
	m := &SearchMetrics{
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipvault_search_queries_total",
			Help: "Search calls by status",
		}, []string{"status"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipvault_search_duration_seconds",
			Help:    "End-to-end search time including color filtering",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		}),
		roundTrips: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipvault_search_round_trips",
			Help:    "Store queries issued per search",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		colorVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipvault_search_color_verdicts_total",
			Help: "Color filter evaluations by verdict",
		}, []string{"verdict"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipvault_search_color_cache_hits_total",
			Help: "Color filter verdicts served from cache",
		}),
	}
	m.collectorGroup = collectorGroup{
		m.queriesTotal, m.queryDuration, m.roundTrips, m.colorVerdicts, m.cacheHits,
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordQuery records a finished search.
func (m *SearchMetrics) RecordQuery(status string, rounds int, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(status).Inc()
	m.queryDuration.Observe(d.Seconds())
	m.roundTrips.Observe(float64(rounds))
}

// RecordVerdict counts a color filter evaluation.
func (m *SearchMetrics) RecordVerdict(accepted, cached bool) {
	if m == nil {
		return
	}
	verdict := VerdictRejected
	if accepted {
		verdict = VerdictAccepted
	}
	m.colorVerdicts.WithLabelValues(verdict).Inc()
	if cached {
		m.cacheHits.Inc()
	}
}
