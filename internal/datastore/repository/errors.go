// Package repository provides query access to the image table.
package repository

import "github.com/clipvault/clipvault/internal/errors"

var (
	// ErrImageNotFound indicates the requested image does not exist.
	ErrImageNotFound = errors.NewStd("image not found")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)

func dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
