// Package repository implements the data access layer for the application.
package repository

import (
	"errors"

	"reviewqueue/internal/models"

	"gorm.io/gorm"
)

// lookupError maps a gorm lookup failure to an AppError.
func lookupError(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewInternalError(err)
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
