package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the identity record for everybody who can sign in: staff, students,
// and parents alike. Which screens they reach is decided by the attached roles.
type User struct {
	ID       string  `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string  `gorm:"uniqueIndex;not null" json:"email"`
	Password *string `json:"-"` // nil for OAuth-only accounts

	FullName  string `gorm:"not null" json:"full_name"`
	Phone     string `json:"phone"`
	PhotoPath string `json:"photo_path"`

	IsActive   bool `gorm:"default:true" json:"is_active"`
	IsVerified bool `gorm:"default:false" json:"is_verified"`

	// GoogleID is the external identity subject once the account is linked.
	GoogleID *string `gorm:"uniqueIndex" json:"-"`

	Roles    []Role    `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// HasPassword reports whether the account can authenticate with a local credential.
func (u *User) HasPassword() bool {
	return u.Password != nil && *u.Password != ""
}

// RoleNames returns the names of every attached role.
func (u *User) RoleNames() []RoleName {
	names := make([]RoleName, 0, len(u.Roles))
	for _, role := range u.Roles {
		names = append(names, role.Name)
	}
	return names
}
