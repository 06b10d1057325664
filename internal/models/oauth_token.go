package models

import "time"

// OAuthToken stores the sealed Google access/refresh token pair for a user.
// At most one row per user: old tokens are deleted before a new pair is stored.
type OAuthToken struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"-"`

	// AccessToken and RefreshToken are AES-GCM sealed, never stored in the clear.
	AccessToken  string     `gorm:"not null" json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at"`
}
