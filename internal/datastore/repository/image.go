package repository

import (
	"context"

	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/recognition"
)

// SaveOutcome describes what Save did with an ingested image.
type SaveOutcome struct {
	// ID of the inserted or refreshed record.
	ID int64
	// Touched is true when the newest record already held the same
	// content and only its mtime was advanced.
	Touched bool
	// MTime is the record's mtime after the save.
	MTime int64
}

// ImageRepository provides access to the image table.
type ImageRepository interface {
	// Save deduplicates against the newest record by content hash. On a
	// match only its mtime advances; otherwise a new record is inserted
	// with ctime = mtime. now is in milliseconds. mtime is kept strictly
	// greater than any existing mtime so cursor pagination never skips
	// records sharing a timestamp.
	Save(ctx context.Context, img *entities.Image, now int64) (SaveOutcome, error)

	// Count returns the number of stored images.
	Count(ctx context.Context) (int64, error)

	// DeleteOldest removes the record with the smallest mtime and
	// returns the number of rows deleted (0 or 1).
	DeleteOldest(ctx context.Context) (int64, error)

	// DeleteByIDs removes the given records.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)

	// GetByID returns a single record including its image bytes.
	GetByID(ctx context.Context, id int64) (*entities.Image, error)

	// FindUnenriched returns one record whose recognition result is null.
	// Returns ErrImageNotFound when every record is enriched.
	FindUnenriched(ctx context.Context) (*entities.Image, error)

	// UpdateOCR stores a recognition result for id.
	UpdateOCR(ctx context.Context, id int64, result recognition.Result) error

	// Query returns at most limit records matching filter, newest first.
	Query(ctx context.Context, filter *Filter, limit int) ([]entities.Image, error)
}
