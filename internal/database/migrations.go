package database

import (
	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Session{},
		&models.OAuthToken{},
		&models.TeacherProfile{},
		&models.StudentProfile{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

// SeedData populates the closed role set as reference rows.
func SeedData(db *gorm.DB) error {
	descriptions := map[models.RoleName]string{
		models.RoleAdmin:          "Full system access",
		models.RolePrincipal:      "School-wide oversight",
		models.RoleTeacher:        "Teaching staff",
		models.RoleLeadingTeacher: "Teaching staff with class responsibility",
		models.RoleStudent:        "Enrolled student",
		models.RoleParent:         "Parent or guardian",
		models.RoleAccountant:     "Finance and salary administration",
	}

	for _, name := range models.AllRoles {
		role := models.Role{
			BaseModel:   models.BaseModel{ID: string(name)},
			Name:        name,
			Description: descriptions[name],
		}
		if err := db.Where(models.Role{Name: name}).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}
	}

	return nil
}
