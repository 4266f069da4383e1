package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OCRMetrics tracks the engine lifecycle and the enrichment worker. All
// methods are safe on a nil receiver.
type OCRMetrics struct {
	collectorGroup

	downloadBytes     prometheus.Counter
	downloadProgress  prometheus.Gauge
	downloadResponses *prometheus.CounterVec
	engineState       *prometheus.GaugeVec
	extractTotal      *prometheus.CounterVec
	analyzeDuration   prometheus.Histogram
	enrichTotal       *prometheus.CounterVec
}

// Engine state label values.
var engineStates = []string{"idle", "downloading", "ready"}

// NewOCRMetrics creates and registers OCR metrics.
func NewOCRMetrics(registry prometheus.Registerer) (*OCRMetrics, error) {
	m := &OCRMetrics{
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipvault_ocr_download_bytes_total",
			Help: "Engine archive bytes fetched",
		}),
		downloadProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clipvault_ocr_download_progress_ratio",
			Help: "Fraction of the engine archive present on disk",
		}),
		downloadResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipvault_ocr_download_responses_total",
			Help: "Archive download responses by HTTP status code, or error",
		}, []string{"status"}),
		engineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clipvault_ocr_engine_state",
			Help: "1 for the current engine state",
		}, []string{"state"}),
		extractTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipvault_ocr_extract_total",
			Help: "Archive extractions by status",
		}, []string{"status"}),
		analyzeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipvault_ocr_analyze_duration_seconds",
			Help:    "Recognition subprocess run time",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount12),
		}),
		enrichTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipvault_enrich_total",
			Help: "Enrichment attempts by status",
		}, []string{"status"}),
	}
	m.collectorGroup = collectorGroup{
		m.downloadBytes, m.downloadProgress, m.downloadResponses, m.engineState,
		m.extractTotal, m.analyzeDuration, m.enrichTotal,
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddDownloaded counts fetched bytes and updates progress.
func (m *OCRMetrics) AddDownloaded(n, have, total int64) {
	if m == nil {
		return
	}
	m.downloadBytes.Add(float64(n))
	if total > 0 {
		m.downloadProgress.Set(float64(have) / float64(total))
	}
}

// RecordDownloadResponse counts one archive request by its outcome: the
// HTTP status code, or StatusError when no response arrived.
func (m *OCRMetrics) RecordDownloadResponse(status string) {
	if m == nil {
		return
	}
	m.downloadResponses.WithLabelValues(status).Inc()
}

// SetState marks state as the current engine state.
func (m *OCRMetrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range engineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.engineState.WithLabelValues(s).Set(v)
	}
}

// RecordExtract records an archive extraction.
func (m *OCRMetrics) RecordExtract(status string) {
	if m == nil {
		return
	}
	m.extractTotal.WithLabelValues(status).Inc()
}

// ObserveAnalyze records a recognition run.
func (m *OCRMetrics) ObserveAnalyze(d time.Duration) {
	if m == nil {
		return
	}
	m.analyzeDuration.Observe(d.Seconds())
}

// RecordEnrich records one enrichment attempt.
func (m *OCRMetrics) RecordEnrich(status string) {
	if m == nil {
		return
	}
	m.enrichTotal.WithLabelValues(status).Inc()
}
