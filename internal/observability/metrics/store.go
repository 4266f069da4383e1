package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics tracks ingestion and retention. All methods are safe on a
// nil receiver.
type StoreMetrics struct {
	collectorGroup

	ingestTotal     *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	evictionsTotal  prometheus.Counter
	sweepErrors     prometheus.Counter
	recordsGauge    prometheus.Gauge
	dbSizeBytes     prometheus.Gauge
	deletedByCaller prometheus.Counter
}

// NewStoreMetrics creates and registers store metrics.
func NewStoreMetrics(registry prometheus.Registerer) (*StoreMetrics, error) {
	m := &StoreMetrics{
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipvault_ingest_total",
			Help: "Ingested frames by outcome",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipvault_ingest_duration_seconds",
			Help:    "Time to encode, hash and commit one frame",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipvault_retention_evictions_total",
			Help: "Records evicted by the retention sweep",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipvault_retention_errors_total",
			Help: "Retention sweeps that failed",
		}),
		recordsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clipvault_records",
			Help: "Stored records at the last retention sweep",
		}),
		dbSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clipvault_database_size_bytes",
			Help: "On-disk database size at the last retention sweep",
		}),
		deletedByCaller: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipvault_deleted_total",
			Help: "Records deleted on explicit request",
		}),
	}
	m.collectorGroup = collectorGroup{
		m.ingestTotal, m.ingestDuration, m.evictionsTotal, m.sweepErrors,
		m.recordsGauge, m.dbSizeBytes, m.deletedByCaller,
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordIngest records one ingestion outcome and its duration.
func (m *StoreMetrics) RecordIngest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(d.Seconds())
}

// RecordSweep records the store measurements taken by a retention tick.
func (m *StoreMetrics) RecordSweep(records, sizeBytes int64, evicted int64) {
	if m == nil {
		return
	}
	m.recordsGauge.Set(float64(records))
	m.dbSizeBytes.Set(float64(sizeBytes))
	m.evictionsTotal.Add(float64(evicted))
}

// RecordSweepError counts a failed retention tick.
func (m *StoreMetrics) RecordSweepError() {
	if m == nil {
		return
	}
	m.sweepErrors.Inc()
}

// RecordDeleted counts records removed by an explicit delete.
func (m *StoreMetrics) RecordDeleted(n int64) {
	if m == nil {
		return
	}
	m.deletedByCaller.Add(float64(n))
}
