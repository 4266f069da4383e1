// Package metrics provides Prometheus collectors for clipvault components.
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Ingestion outcomes.
const (
	OutcomeInserted = "inserted"
	OutcomeTouched  = "touched"
	OutcomeFailed   = "failed"
)

// Color-filter verdict labels.
const (
	VerdictAccepted = "accepted"
	VerdictRejected = "rejected"
)

// Histogram bucket parameters.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for 100ms histograms.
	BucketStart100ms = 0.1
	// BucketFactor2 doubles each bucket.
	BucketFactor2 = 2.0
	// BucketCount12 covers three orders of magnitude with factor 2.
	BucketCount12 = 12
	// BucketCount15 covers four orders of magnitude with factor 2.
	BucketCount15 = 15
)
