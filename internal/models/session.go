package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Session is the server-side record behind the opaque cookie token. A session
// starts anonymous and is bound to a user at login; binding deletes the user's
// other session rows (single-active-session policy).
type Session struct {
	ID     string  `gorm:"primaryKey;type:uuid" json:"id"`
	Token  string  `gorm:"uniqueIndex;not null" json:"-"`
	UserID *string `gorm:"type:uuid;index" json:"user_id"`
	User   *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	// IssuedAt anchors token rotation: once the token is older than the
	// rotation threshold a fresh one is issued in place and this resets.
	IssuedAt       time.Time `gorm:"not null" json:"issued_at"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// Data holds the session-scoped document: flash queue, CSRF token,
	// cached current-user snapshot, and the post-login intended path.
	Data datatypes.JSON `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Expired reports whether the session lifetime has elapsed at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
