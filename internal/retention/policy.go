// Package retention keeps the image store within its configured budget by
// evicting the oldest record, one per tick.
package retention

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/observability/metrics"
)

// Store is the part of the image repository retention needs.
type Store interface {
	Count(ctx context.Context) (int64, error)
	DeleteOldest(ctx context.Context) (int64, error)
}

// Preferences supplies the current budget.
type Preferences interface {
	Get() conf.Preferences
}

// Config holds the policy's collaborators.
type Config struct {
	Store Store
	// Size reports the on-disk bytes of the store.
	Size        func() (int64, error)
	Preferences Preferences
	Interval    time.Duration
	Logger      logger.Logger
	Metrics     *metrics.StoreMetrics
}

// Policy evicts at most one record per sweep.
type Policy struct {
	store    Store
	size     func() (int64, error)
	prefs    Preferences
	interval time.Duration
	log      logger.Logger
	metrics  *metrics.StoreMetrics
}

// Result describes one sweep.
type Result struct {
	Kind    conf.LimitType
	Limit   int64
	Count   int64
	Bytes   int64
	Evicted bool
}

// New creates a Policy.
func New(cfg Config) *Policy {
	p := &Policy{
		store:    cfg.Store,
		size:     cfg.Size,
		prefs:    cfg.Preferences,
		interval: cfg.Interval,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if p.log == nil {
		p.log = logger.NewNopLogger()
	}
	return p
}

// overBudget compares the store to the preference budget. Size budgets
// are whole megabytes: 1.9 MB against a 1 MB limit is not over.
func overBudget(kind conf.LimitType, limit, count, bytes int64) bool {
	switch kind {
	case conf.LimitNUM:
		return count > limit
	default:
		return bytes/1024/1024 > limit
	}
}

// Sweep measures the store and evicts the oldest record when over budget.
func (p *Policy) Sweep(ctx context.Context) (Result, error) {
	prefs := p.prefs.Get()
	res := Result{Kind: prefs.LimitType(), Limit: prefs.Limit()}

	count, err := p.store.Count(ctx)
	if err != nil {
		return res, err
	}
	res.Count = count

	bytes, err := p.size()
	if err != nil {
		return res, errors.New(err).
			Component("retention").
			Category(errors.CategoryFileIO).
			Context("operation", "measure-store").
			Build()
	}
	res.Bytes = bytes

	if overBudget(res.Kind, res.Limit, count, bytes) {
		deleted, err := p.store.DeleteOldest(ctx)
		if err != nil {
			return res, err
		}
		res.Evicted = deleted > 0
	}

	evicted := int64(0)
	if res.Evicted {
		evicted = 1
	}
	p.metrics.RecordSweep(res.Count-evicted, res.Bytes, evicted)
	return res, nil
}

// Run sweeps every interval until ctx is done. Sweep errors are logged and
// the loop continues.
func (p *Policy) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("retention policy started", logger.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("retention policy stopped")
			return nil
		case <-ticker.C:
			res, err := p.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				p.metrics.RecordSweepError()
				p.log.Error("retention sweep failed", logger.Error(err))
				continue
			}
			if res.Evicted {
				p.log.Info("evicted oldest record",
					logger.String("limit_type", string(res.Kind)),
					logger.Int64("limit", res.Limit),
					logger.Int64("records", res.Count),
					logger.String("size", humanize.IBytes(uint64(max(res.Bytes, 0)))))
			}
		}
	}
}
