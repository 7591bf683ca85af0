package repository

import (
	"context"

	"reviewqueue/internal/models"

	"gorm.io/gorm"
)

// StaffActionLogRepository records staff decisions.
type StaffActionLogRepository interface {
	Create(ctx context.Context, entry *models.StaffActionLog) error
	ListByReviewable(ctx context.Context, reviewableID uint) ([]models.StaffActionLog, error)
	WithTx(tx *gorm.DB) StaffActionLogRepository
}

type staffActionLogRepository struct {
	db *gorm.DB
}

func NewStaffActionLogRepository(db *gorm.DB) StaffActionLogRepository {
	return &staffActionLogRepository{db: db}
}

func (r *staffActionLogRepository) WithTx(tx *gorm.DB) StaffActionLogRepository {
	return &staffActionLogRepository{db: tx}
}

func (r *staffActionLogRepository) Create(ctx context.Context, entry *models.StaffActionLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *staffActionLogRepository) ListByReviewable(ctx context.Context, reviewableID uint) ([]models.StaffActionLog, error) {
	var entries []models.StaffActionLog
	if err := r.db.WithContext(ctx).
		Where("reviewable_id = ?", reviewableID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return entries, nil
}
