package database

import "reviewqueue/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Group{},
		&models.GroupUser{},
		&models.Category{},
		&models.Topic{},
		&models.Post{},
		&models.Reviewable{},
		&models.ReviewableHistory{},
		&models.StaffActionLog{},
	}
}
