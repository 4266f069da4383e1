package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/recognition"
)

// imageRepository implements ImageRepository.
type imageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a new ImageRepository.
func NewImageRepository(db *gorm.DB) ImageRepository {
	return &imageRepository{db: db}
}

func (r *imageRepository) table(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&entities.Image{})
}

// Save inserts img or refreshes the newest record when its sum matches.
func (r *imageRepository) Save(ctx context.Context, img *entities.Image, now int64) (SaveOutcome, error) {
	if img == nil || img.Sum == "" {
		return SaveOutcome{}, fmt.Errorf("%w: image with content hash is required", ErrInvalidInput)
	}

	var out SaveOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var newest entities.Image
		err := tx.Model(&entities.Image{}).
			Select("id", "sum", "mtime").
			Order("mtime DESC").
			Limit(1).
			Take(&newest).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		mtime := now
		if found && mtime <= newest.MTime {
			mtime = newest.MTime + 1
		}

		if found && newest.Sum == img.Sum {
			if err := tx.Model(&entities.Image{}).
				Where("id = ?", newest.ID).
				Update("mtime", mtime).Error; err != nil {
				return err
			}
			out = SaveOutcome{ID: newest.ID, Touched: true, MTime: mtime}
			return nil
		}

		record := *img
		record.ID = 0
		record.OCR = nil
		record.CTime = mtime
		record.MTime = mtime
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		out = SaveOutcome{ID: record.ID, MTime: mtime}
		return nil
	})
	if err != nil {
		return SaveOutcome{}, dbError(err, "save-image")
	}
	return out, nil
}

// Count returns the number of stored images.
func (r *imageRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.table(ctx).Count(&n).Error; err != nil {
		return 0, dbError(err, "count-images")
	}
	return n, nil
}

// DeleteOldest removes the record with the smallest mtime in one statement.
func (r *imageRepository) DeleteOldest(ctx context.Context) (int64, error) {
	oldest := r.db.WithContext(ctx).Model(&entities.Image{}).
		Select("id").
		Order("mtime ASC").
		Limit(1)
	result := r.db.WithContext(ctx).
		Where("id IN (?)", oldest).
		Delete(&entities.Image{})
	if result.Error != nil {
		return 0, dbError(result.Error, "delete-oldest")
	}
	return result.RowsAffected, nil
}

// DeleteByIDs removes the given records.
func (r *imageRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&entities.Image{})
	if result.Error != nil {
		return 0, dbError(result.Error, "delete-images")
	}
	return result.RowsAffected, nil
}

// GetByID returns a single record.
func (r *imageRepository) GetByID(ctx context.Context, id int64) (*entities.Image, error) {
	var img entities.Image
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, dbError(err, "get-image")
	}
	return &img, nil
}

// FindUnenriched returns one record without a recognition result.
func (r *imageRepository) FindUnenriched(ctx context.Context) (*entities.Image, error) {
	var img entities.Image
	err := r.db.WithContext(ctx).
		Select("id", "image").
		Where("ocr IS NULL").
		Limit(1).
		Take(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, dbError(err, "find-unenriched")
	}
	return &img, nil
}

// UpdateOCR stores result on record id. The record may have been evicted
// since it was selected, which yields ErrImageNotFound.
func (r *imageRepository) UpdateOCR(ctx context.Context, id int64, result recognition.Result) error {
	res := r.table(ctx).Where("id = ?", id).Update("ocr", result)
	if res.Error != nil {
		return dbError(res.Error, "update-ocr")
	}
	if res.RowsAffected == 0 {
		return ErrImageNotFound
	}
	return nil
}

// Query returns at most limit records matching filter ordered by mtime
// descending.
func (r *imageRepository) Query(ctx context.Context, filter *Filter, limit int) ([]entities.Image, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}
	var images []entities.Image
	tx := filter.apply(r.db.WithContext(ctx).Model(&entities.Image{}))
	if err := tx.Order("mtime DESC").Order("id DESC").Limit(limit).Find(&images).Error; err != nil {
		return nil, dbError(err, "query-images")
	}
	return images, nil
}
