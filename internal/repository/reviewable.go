package repository

import (
	"context"
	"fmt"

	"reviewqueue/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Visibility selects the reviewables a reviewer may see. All short-circuits
// the other predicates; otherwise rows match when they are reviewable by
// moderators and Staff is set, or when their group is in GroupIDs.
type Visibility struct {
	All      bool
	Staff    bool
	GroupIDs []uint
}

// ReviewableFilter narrows a visibility query.
type ReviewableFilter struct {
	Visibility
	Status *models.ReviewableStatus
	Kind   string
	// ReviewableByModerator restricts to rows flagged for moderators.
	ReviewableByModerator bool
}

// ReviewableRepository defines persistence operations for reviewables and
// their history.
type ReviewableRepository interface {
	Create(ctx context.Context, r *models.Reviewable) error
	GetByID(ctx context.Context, id uint) (*models.Reviewable, error)
	FindByKindAndTarget(ctx context.Context, kind string, targetID uint) (*models.Reviewable, error)
	FindByTargets(ctx context.Context, kind string, targetIDs []uint) ([]models.Reviewable, error)
	Reactivate(ctx context.Context, kind string, targetID uint) (int64, error)
	UpdateStatus(ctx context.Context, id uint, status models.ReviewableStatus) error
	Save(ctx context.Context, r *models.Reviewable) error
	SetClaimedBy(ctx context.Context, id uint, userID *uint) error
	List(ctx context.Context, filter ReviewableFilter, limit, offset int) ([]models.Reviewable, error)
	Count(ctx context.Context, filter ReviewableFilter) (int64, error)
	LogHistory(ctx context.Context, h *models.ReviewableHistory) error
	History(ctx context.Context, reviewableID uint) ([]models.ReviewableHistory, error)
	WithTx(tx *gorm.DB) ReviewableRepository
}

type reviewableRepository struct {
	db *gorm.DB
}

// NewReviewableRepository returns a new ReviewableRepository implementation.
func NewReviewableRepository(db *gorm.DB) ReviewableRepository {
	return &reviewableRepository{db: db}
}

func (r *reviewableRepository) WithTx(tx *gorm.DB) ReviewableRepository {
	return &reviewableRepository{db: tx}
}

// Create inserts rv. A unique violation is returned wrapped, not mapped, so
// callers can detect it.
func (r *reviewableRepository) Create(ctx context.Context, rv *models.Reviewable) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(rv).Error; err != nil {
		return fmt.Errorf("create reviewable: %w", err)
	}
	return nil
}

func (r *reviewableRepository) GetByID(ctx context.Context, id uint) (*models.Reviewable, error) {
	var rv models.Reviewable
	if err := r.db.WithContext(ctx).First(&rv, id).Error; err != nil {
		return nil, lookupError(err, "Reviewable", id)
	}
	return &rv, nil
}

func (r *reviewableRepository) FindByKindAndTarget(ctx context.Context, kind string, targetID uint) (*models.Reviewable, error) {
	var rv models.Reviewable
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND target_id = ?", kind, targetID).
		First(&rv).Error; err != nil {
		return nil, lookupError(err, "Reviewable", fmt.Sprintf("%s/%d", kind, targetID))
	}
	return &rv, nil
}

func (r *reviewableRepository) FindByTargets(ctx context.Context, kind string, targetIDs []uint) ([]models.Reviewable, error) {
	var rows []models.Reviewable
	if len(targetIDs) == 0 {
		return rows, nil
	}
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND target_id IN ?", kind, targetIDs).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return rows, nil
}

// Reactivate resets the status of the row for (kind, target) to pending with
// a column update that bypasses hooks and timestamps.
func (r *reviewableRepository) Reactivate(ctx context.Context, kind string, targetID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Reviewable{}).
		Where("kind = ? AND target_id = ?", kind, targetID).
		UpdateColumn("status", models.StatusPending)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *reviewableRepository) UpdateStatus(ctx context.Context, id uint, status models.ReviewableStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Reviewable{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Reviewable", id)
	}
	return nil
}

func (r *reviewableRepository) Save(ctx context.Context, rv *models.Reviewable) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(rv).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *reviewableRepository) SetClaimedBy(ctx context.Context, id uint, userID *uint) error {
	res := r.db.WithContext(ctx).Model(&models.Reviewable{}).
		Where("id = ?", id).
		Update("claimed_by_id", userID)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Reviewable", id)
	}
	return nil
}

func (f ReviewableFilter) scope(db *gorm.DB) *gorm.DB {
	if !f.All {
		switch {
		case f.Staff && len(f.GroupIDs) > 0:
			db = db.Where("(reviewable_by_moderator = ? OR reviewable_by_group_id IN ?)", true, f.GroupIDs)
		case f.Staff:
			db = db.Where("reviewable_by_moderator = ?", true)
		case len(f.GroupIDs) > 0:
			db = db.Where("reviewable_by_group_id IN ?", f.GroupIDs)
		default:
			db = db.Where("1 = 0")
		}
	}
	if f.ReviewableByModerator {
		db = db.Where("reviewable_by_moderator = ?", true)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.Kind != "" {
		db = db.Where("kind = ?", f.Kind)
	}
	return db
}

// List returns matching rows newest first with their creators preloaded.
func (r *reviewableRepository) List(ctx context.Context, filter ReviewableFilter, limit, offset int) ([]models.Reviewable, error) {
	rows := []models.Reviewable{}
	limit = clampLimit(limit, 50, 200)
	if err := filter.scope(r.db.WithContext(ctx).Model(&models.Reviewable{})).
		Preload("CreatedBy").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return rows, nil
}

func (r *reviewableRepository) Count(ctx context.Context, filter ReviewableFilter) (int64, error) {
	var n int64
	if err := filter.scope(r.db.WithContext(ctx).Model(&models.Reviewable{})).Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

func (r *reviewableRepository) LogHistory(ctx context.Context, h *models.ReviewableHistory) error {
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *reviewableRepository) History(ctx context.Context, reviewableID uint) ([]models.ReviewableHistory, error) {
	rows := []models.ReviewableHistory{}
	if err := r.db.WithContext(ctx).
		Where("reviewable_id = ?", reviewableID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return rows, nil
}
