package session

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/pkg/crypto"
	"github.com/tranqk/schoolhub/pkg/metrics"
)

// Flash is a read-once notice queued for display after a redirect.
type Flash struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// UserSnapshot is the per-session cached view of the authenticated user,
// including concatenated role names. It stays cached until a profile-mutating
// operation invalidates it.
type UserSnapshot struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	FullName  string            `json:"full_name"`
	Phone     string            `json:"phone"`
	PhotoPath string            `json:"photo_path"`
	Roles     []models.RoleName `json:"roles"`
	RoleList  string            `json:"role_list"`
}

// HasRole reports whether the snapshot carries the named role.
func (u *UserSnapshot) HasRole(role models.RoleName) bool {
	if u == nil {
		return false
	}
	for _, candidate := range u.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the snapshot carries at least one of the named roles.
func (u *UserSnapshot) HasAnyRole(roles ...models.RoleName) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// document is the session-scoped payload persisted as JSON on the session row.
type document struct {
	Flashes      []Flash       `json:"flashes,omitempty"`
	CSRFToken    string        `json:"csrf_token,omitempty"`
	IntendedPath string        `json:"intended_path,omitempty"`
	User         *UserSnapshot `json:"user,omitempty"`
}

// Context is the explicit per-request session object. All session reads and
// writes go through it; there is no ambient session state.
type Context struct {
	manager *Manager
	record  *models.Session
	doc     document
	gin     *gin.Context
}

func (s *Context) loadDocument() error {
	if len(s.record.Data) == 0 {
		s.doc = document{}
		return nil
	}
	if err := json.Unmarshal([]byte(s.record.Data), &s.doc); err != nil {
		// A corrupt document is discarded rather than locking the user out.
		s.doc = document{}
	}
	return nil
}

func (s *Context) save() error {
	raw, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("session: marshal document: %w", err)
	}

	if err := s.manager.db.Model(s.record).Update("data", datatypes.JSON(raw)).Error; err != nil {
		return fmt.Errorf("session: persist document: %w", err)
	}

	s.record.Data = datatypes.JSON(raw)
	return nil
}

// ID returns the session row identifier (not the cookie token).
func (s *Context) ID() string { return s.record.ID }

// Token returns the current opaque cookie token, exposed for tests.
func (s *Context) Token() string { return s.record.Token }

// IPAddress returns the client address recorded when the session was created.
func (s *Context) IPAddress() string { return s.record.IPAddress }

// IsAuthenticated reports whether a user is bound to this session.
func (s *Context) IsAuthenticated() bool {
	return s.record.UserID != nil && *s.record.UserID != ""
}

// UserID returns the bound user id, or empty when anonymous.
func (s *Context) UserID() string {
	if s.record.UserID == nil {
		return ""
	}
	return *s.record.UserID
}

// CurrentUser returns the cached snapshot of the bound user, computing and
// caching it on first use. Callers mutating the profile must invalidate it.
func (s *Context) CurrentUser() (*UserSnapshot, error) {
	if !s.IsAuthenticated() {
		return nil, nil
	}

	if s.doc.User != nil {
		return s.doc.User, nil
	}

	var user models.User
	err := s.manager.db.Preload("Roles").Take(&user, "id = ?", *s.record.UserID).Error
	if err != nil {
		return nil, fmt.Errorf("session: load current user: %w", err)
	}

	names := user.RoleNames()
	list := make([]string, len(names))
	for i, name := range names {
		list[i] = string(name)
	}

	s.doc.User = &UserSnapshot{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		Phone:     user.Phone,
		PhotoPath: user.PhotoPath,
		Roles:     names,
		RoleList:  strings.Join(list, ", "),
	}

	if err := s.save(); err != nil {
		return nil, err
	}
	return s.doc.User, nil
}

// InvalidateUserCache drops the cached snapshot so the next CurrentUser call
// reloads fresh data.
func (s *Context) InvalidateUserCache() error {
	if s.doc.User == nil {
		return nil
	}
	s.doc.User = nil
	return s.save()
}

// BindUser attaches a user to this session, enforcing the
// single-active-session policy: any other session rows for that user are
// deleted first, then the lifetime restarts from now.
func (s *Context) BindUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("session: user id is required")
	}

	now := s.manager.now()
	wasAnonymous := !s.IsAuthenticated()

	err := s.manager.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND id <> ?", userID, s.record.ID).
			Delete(&models.Session{}).Error; err != nil {
			return err
		}

		return tx.Model(s.record).Updates(map[string]any{
			"user_id":          userID,
			"expires_at":       now.Add(s.manager.lifetime),
			"last_activity_at": now,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("session: bind user: %w", err)
	}

	s.record.UserID = &userID
	s.record.ExpiresAt = now.Add(s.manager.lifetime)
	s.record.LastActivityAt = now

	s.doc.User = nil
	if err := s.save(); err != nil {
		return err
	}

	if wasAnonymous {
		metrics.ActiveSessions.Inc()
	}
	return nil
}

// Unbind logs the session out: the row is deleted, state resets to a fresh
// anonymous session. Calling it on an anonymous session is a no-op.
func (s *Context) Unbind() error {
	if !s.IsAuthenticated() {
		return nil
	}

	if err := s.manager.db.Delete(&models.Session{}, "id = ?", s.record.ID).Error; err != nil {
		return fmt.Errorf("session: delete session: %w", err)
	}
	metrics.ActiveSessions.Dec()

	now := s.manager.now()
	token, err := crypto.GenerateToken(s.manager.tokenLen)
	if err != nil {
		return fmt.Errorf("session: generate token: %w", err)
	}

	record := &models.Session{
		Token:          token,
		IPAddress:      s.record.IPAddress,
		UserAgent:      s.record.UserAgent,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.manager.lifetime),
		LastActivityAt: now,
	}
	if err := s.manager.db.Create(record).Error; err != nil {
		return fmt.Errorf("session: recreate session: %w", err)
	}

	s.record = record
	s.doc = document{}
	if s.gin != nil {
		s.manager.setCookie(s.gin, token)
	}
	return nil
}

// SetFlash appends a read-once notice to the session queue.
func (s *Context) SetFlash(kind, text string) error {
	s.doc.Flashes = append(s.doc.Flashes, Flash{Kind: kind, Text: text})
	return s.save()
}

// PopFlashes returns all queued flashes and atomically clears the queue.
func (s *Context) PopFlashes() ([]Flash, error) {
	if len(s.doc.Flashes) == 0 {
		return nil, nil
	}

	flashes := s.doc.Flashes
	s.doc.Flashes = nil
	if err := s.save(); err != nil {
		return nil, err
	}
	return flashes, nil
}

// CSRFToken returns the session's CSRF token, generating it lazily.
func (s *Context) CSRFToken() (string, error) {
	if s.doc.CSRFToken != "" {
		return s.doc.CSRFToken, nil
	}

	token, err := crypto.GenerateToken(csrfTokenLength)
	if err != nil {
		return "", fmt.Errorf("session: generate csrf token: %w", err)
	}

	s.doc.CSRFToken = token
	if err := s.save(); err != nil {
		return "", err
	}
	return token, nil
}

// VerifyCSRF compares a submitted token against the session token in constant
// time. A session without a token fails closed.
func (s *Context) VerifyCSRF(candidate string) bool {
	stored := s.doc.CSRFToken
	if stored == "" || candidate == "" {
		return false
	}
	if len(stored) != len(candidate) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// SetIntendedPath remembers where an unauthenticated request wanted to go so
// the login flow can redirect back afterwards.
func (s *Context) SetIntendedPath(path string) error {
	s.doc.IntendedPath = path
	return s.save()
}

// PopIntendedPath returns and clears the stored post-login destination.
func (s *Context) PopIntendedPath() (string, error) {
	if s.doc.IntendedPath == "" {
		return "", nil
	}
	path := s.doc.IntendedPath
	s.doc.IntendedPath = ""
	if err := s.save(); err != nil {
		return "", err
	}
	return path, nil
}

// Touch records request activity for authenticated sessions. The stamp is for
// auditing and display; expiry is governed by the lifetime fields alone.
func (s *Context) Touch() error {
	if !s.IsAuthenticated() {
		return nil
	}

	now := s.manager.now()
	if err := s.manager.db.Model(s.record).
		Update("last_activity_at", now).Error; err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	s.record.LastActivityAt = now
	return nil
}
