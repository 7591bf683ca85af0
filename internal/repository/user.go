package repository

import (
	"context"
	"errors"

	"reviewqueue/internal/cache"
	"reviewqueue/internal/database"
	"reviewqueue/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines persistence operations for users and their groups.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateFields(ctx context.Context, id uint, updates map[string]any) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	ListStaff(ctx context.Context) ([]models.User, error)
	ListAdmins(ctx context.Context) ([]models.User, error)
	ListModerators(ctx context.Context) ([]models.User, error)
	GroupIDs(ctx context.Context, userID uint) ([]uint, error)
	GroupMemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	CreateGroup(ctx context.Context, group *models.Group) error
	AddToGroup(ctx context.Context, groupID, userID uint) error
	RemoveFromGroup(ctx context.Context, groupID, userID uint) error
	WithTx(tx *gorm.DB) UserRepository
}

type userRepository struct {
	db *gorm.DB
	// cached is false for transaction-bound repositories, which must read
	// their own writes.
	cached bool
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, cached: true}
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return &userRepository{db: tx}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	load := func() error {
		if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
			return lookupError(err, "User", id)
		}
		return nil
	}

	var err error
	if r.cached {
		err = cache.Aside(ctx, cache.UserKey(id), &user, cache.UserTTL, load)
	} else {
		err = load()
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return models.NewValidationError("User already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

// UpdateFields writes the given columns. Callers never Save a whole user
// because cached copies carry no password hash.
func (r *userRepository) UpdateFields(ctx context.Context, id uint, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	cache.InvalidateUser(ctx, id)
	if changesVisibility(updates) {
		cache.BumpReviewableVersion(ctx)
	}
	return nil
}

// changesVisibility reports whether updates touch a column that decides which
// reviewables the user can see.
func changesVisibility(updates map[string]any) bool {
	for _, column := range []string{"is_admin", "is_moderator"} {
		if _, ok := updates[column]; ok {
			return true
		}
	}
	return false
}

// Delete removes the row permanently, freeing its username and email.
func (r *userRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Unscoped().Delete(&models.User{}, id).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	limit = clampLimit(limit, 20, 100)
	if err := r.db.WithContext(ctx).Order("id ASC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *userRepository) listWhere(ctx context.Context, query string, args ...any) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Where(query, args...).Order("id ASC").Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *userRepository) ListStaff(ctx context.Context) ([]models.User, error) {
	return r.listWhere(ctx, "is_admin = ? OR is_moderator = ?", true, true)
}

func (r *userRepository) ListAdmins(ctx context.Context) ([]models.User, error) {
	return r.listWhere(ctx, "is_admin = ?", true)
}

func (r *userRepository) ListModerators(ctx context.Context) ([]models.User, error) {
	return r.listWhere(ctx, "is_moderator = ?", true)
}

func (r *userRepository) GroupIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.GroupUser{}).
		Where("user_id = ?", userID).
		Order("group_id ASC").
		Pluck("group_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *userRepository) GroupMemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.GroupUser{}).
		Where("group_id = ?", groupID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *userRepository) CreateGroup(ctx context.Context, group *models.Group) error {
	if err := r.db.WithContext(ctx).Create(group).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return models.NewValidationError("Group already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

// AddToGroup is idempotent.
func (r *userRepository) AddToGroup(ctx context.Context, groupID, userID uint) error {
	membership := models.GroupUser{GroupID: groupID, UserID: userID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&membership).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.BumpReviewableVersion(ctx)
	return nil
}

func (r *userRepository) RemoveFromGroup(ctx context.Context, groupID, userID uint) error {
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupUser{}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	cache.BumpReviewableVersion(ctx)
	return nil
}
