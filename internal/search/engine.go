// Package search answers image queries: structural predicates evaluated by
// the store, an optional in-process color filter, and adaptive pagination
// that widens the batch until enough records are accepted.
package search

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/datastore/repository"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/observability/metrics"
)

// DefaultLimit applies when a query has no limit.
const DefaultLimit = 16

// Query selects images. Every field is optional.
type Query struct {
	// MTime is an exclusive upper bound on mtime, the pagination cursor.
	MTime         *int64       `json:"mtime,omitempty"`
	Limit         *int         `json:"limit,omitempty"`
	IDs           []int64      `json:"id,omitempty"`
	Texts         []string     `json:"text,omitempty"`
	DateRangeFrom *int64       `json:"date_range_from,omitempty"`
	DateRangeTo   *int64       `json:"date_range_to,omitempty"`
	ColorFilter   *ColorFilter `json:"color_filter,omitempty"`
}

// Page is one query result, newest first.
type Page struct {
	Images []entities.Image `json:"images"`
	// Cursor continues after the last returned image; nil when empty.
	Cursor *int64 `json:"cursor,omitempty"`
}

// Store runs structural queries.
type Store interface {
	Query(ctx context.Context, filter *repository.Filter, limit int) ([]entities.Image, error)
}

// Config holds the engine's collaborators.
type Config struct {
	Store        Store
	DefaultLimit int
	// VerdictTTL is how long color verdicts stay cached; 0 disables caching.
	VerdictTTL time.Duration
	Logger     logger.Logger
	Metrics    *metrics.SearchMetrics
}

// Engine executes queries.
type Engine struct {
	store        Store
	defaultLimit int
	verdicts     *cache.Cache
	log          logger.Logger
	metrics      *metrics.SearchMetrics
}

// New creates an Engine.
func New(cfg Config) *Engine {
	e := &Engine{
		store:        cfg.Store,
		defaultLimit: cfg.DefaultLimit,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if e.defaultLimit <= 0 {
		e.defaultLimit = DefaultLimit
	}
	if cfg.VerdictTTL > 0 {
		e.verdicts = cache.New(cfg.VerdictTTL, 2*cfg.VerdictTTL)
	}
	if e.log == nil {
		e.log = logger.NewNopLogger()
	}
	return e
}

func (q *Query) filter() repository.Filter {
	return repository.Filter{
		Before:      q.MTime,
		IDs:         q.IDs,
		Texts:       q.Texts,
		CreatedFrom: q.DateRangeFrom,
		CreatedTo:   q.DateRangeTo,
	}
}

// Search returns at most limit matching images. When the color filter
// rejects rows, it re-queries below the oldest mtime seen with a doubled
// batch size until the limit is met or the store is exhausted.
func (e *Engine) Search(ctx context.Context, q Query) (Page, error) {
	start := time.Now()
	limit := e.defaultLimit
	if q.Limit != nil {
		limit = *q.Limit
	}
	if limit <= 0 {
		e.metrics.RecordQuery(metrics.StatusError, 0, time.Since(start))
		return Page{}, errors.Newf("limit must be positive, got %d", limit).
			Component("search").
			Category(errors.CategoryValidation).
			Build()
	}

	page, rounds, err := e.paginate(ctx, q, limit)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	e.metrics.RecordQuery(status, rounds, time.Since(start))
	if err != nil {
		return Page{}, err
	}

	if n := len(page.Images); n > 0 {
		cursor := page.Images[n-1].MTime
		page.Cursor = &cursor
	}
	e.log.Debug("search completed",
		logger.Int("returned", len(page.Images)),
		logger.Int("limit", limit),
		logger.Int("round_trips", rounds),
		logger.Duration("elapsed", time.Since(start)))
	return page, nil
}

func (e *Engine) paginate(ctx context.Context, q Query, limit int) (Page, int, error) {
	filter := q.filter()
	accepted := make([]entities.Image, 0, limit)
	batchSize := limit
	rounds := 0

	for {
		rounds++
		batch, err := e.store.Query(ctx, &filter, batchSize)
		if err != nil {
			return Page{}, rounds, err
		}
		if len(batch) == 0 {
			break
		}

		oldest := batch[0].MTime
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return Page{}, rounds, err
			}
			oldest = min(oldest, batch[i].MTime)
			if !e.accept(q.ColorFilter, &batch[i]) {
				continue
			}
			accepted = append(accepted, batch[i])
			if len(accepted) == limit {
				return Page{Images: accepted}, rounds, nil
			}
		}

		// a short batch means nothing older matches
		if len(batch) < batchSize {
			break
		}
		filter.Before = &oldest
		batchSize *= 2
	}
	return Page{Images: accepted}, rounds, nil
}

// accept applies the color filter, consulting the verdict cache.
func (e *Engine) accept(f *ColorFilter, img *entities.Image) bool {
	if f == nil {
		return true
	}

	var key string
	if e.verdicts != nil && img.Sum != "" {
		key = img.Sum + "|" + f.key()
		if v, ok := e.verdicts.Get(key); ok {
			verdict := v.(bool)
			e.metrics.RecordVerdict(verdict, true)
			return verdict
		}
	}

	coverage, err := f.Coverage(img.Image)
	if err != nil {
		e.log.Warn("color filter could not decode image, rejecting",
			logger.Int64("id", img.ID),
			logger.Error(err))
		return false
	}
	verdict := f.Accepts(coverage)
	if key != "" {
		e.verdicts.SetDefault(key, verdict)
	}
	e.metrics.RecordVerdict(verdict, false)
	return verdict
}
