package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/pkg/crypto"
	"github.com/tranqk/schoolhub/pkg/metrics"
)

const (
	// DefaultLifetime is the fallback fixed session lifetime.
	DefaultLifetime = 24 * time.Hour
	// DefaultRotateAfter bounds how long a single session identifier stays
	// valid before it is rotated in place.
	DefaultRotateAfter = 30 * time.Minute
	// DefaultCookieName transports the opaque session token.
	DefaultCookieName = "schoolhub_session"

	defaultTokenLength = 32
	csrfTokenLength    = 32
)

// ctxKey is the gin context key the bootstrapped session is stored under.
const ctxKey = "schoolhubSession"

// Config describes tunable behaviour for the session Manager.
type Config struct {
	Lifetime    time.Duration
	RotateAfter time.Duration
	TokenLength int
	CookieName  string
	Clock       func() time.Time
}

// Manager owns the server-side session lifecycle: creation, expiry,
// periodic identifier rotation, and the session-scoped data document.
type Manager struct {
	db          *gorm.DB
	lifetime    time.Duration
	rotateAfter time.Duration
	tokenLen    int
	cookieName  string
	now         func() time.Time
}

// NewManager constructs a session manager backed by the provided database.
func NewManager(db *gorm.DB, cfg Config) (*Manager, error) {
	if db == nil {
		return nil, errors.New("session manager: db is required")
	}

	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	rotateAfter := cfg.RotateAfter
	if rotateAfter <= 0 {
		rotateAfter = DefaultRotateAfter
	}

	tokenLen := cfg.TokenLength
	if tokenLen <= 0 {
		tokenLen = defaultTokenLength
	}

	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &Manager{
		db:          db,
		lifetime:    lifetime,
		rotateAfter: rotateAfter,
		tokenLen:    tokenLen,
		cookieName:  cookieName,
		now:         clock,
	}, nil
}

// Bootstrap attaches the request to its session, creating an anonymous one
// when no valid cookie is presented. Sessions older than the rotation
// threshold are issued a fresh identifier in place: the data document and any
// user binding survive, only the token and its issue stamp change.
func (m *Manager) Bootstrap(c *gin.Context) (*Context, error) {
	now := m.now()

	if token, err := c.Cookie(m.cookieName); err == nil && token != "" {
		var record models.Session
		err := m.db.Where("token = ?", token).Take(&record).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to a fresh session
		case err != nil:
			return nil, fmt.Errorf("session manager: load session: %w", err)
		case record.Expired(now):
			if record.UserID != nil {
				metrics.ActiveSessions.Dec()
			}
			if err := m.db.Delete(&models.Session{}, "id = ?", record.ID).Error; err != nil {
				return nil, fmt.Errorf("session manager: delete expired session: %w", err)
			}
		default:
			sc, err := m.attach(c, &record, now)
			if err != nil {
				return nil, err
			}
			c.Set(ctxKey, sc)
			return sc, nil
		}
	}

	sc, err := m.create(c, now)
	if err != nil {
		return nil, err
	}
	c.Set(ctxKey, sc)
	return sc, nil
}

// FromGin returns the session bootstrapped earlier in the middleware chain.
func FromGin(c *gin.Context) (*Context, bool) {
	v, ok := c.Get(ctxKey)
	if !ok {
		return nil, false
	}
	sc, ok := v.(*Context)
	return sc, ok
}

// MustFromGin is FromGin for handlers that run strictly after the session middleware.
func MustFromGin(c *gin.Context) *Context {
	sc, ok := FromGin(c)
	if !ok {
		panic("session: middleware did not run before handler")
	}
	return sc
}

func (m *Manager) create(c *gin.Context, now time.Time) (*Context, error) {
	token, err := crypto.GenerateToken(m.tokenLen)
	if err != nil {
		return nil, fmt.Errorf("session manager: generate token: %w", err)
	}

	record := &models.Session{
		Token:          token,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.lifetime),
		LastActivityAt: now,
	}

	if err := m.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("session manager: create session: %w", err)
	}

	m.setCookie(c, token)

	return &Context{manager: m, record: record, gin: c}, nil
}

func (m *Manager) attach(c *gin.Context, record *models.Session, now time.Time) (*Context, error) {
	sc := &Context{manager: m, record: record, gin: c}
	if err := sc.loadDocument(); err != nil {
		return nil, err
	}

	if now.Sub(record.IssuedAt) > m.rotateAfter {
		if err := m.rotate(c, record, now); err != nil {
			return nil, err
		}
	}

	return sc, nil
}

// rotate issues a new session identifier while preserving the session row.
func (m *Manager) rotate(c *gin.Context, record *models.Session, now time.Time) error {
	token, err := crypto.GenerateToken(m.tokenLen)
	if err != nil {
		return fmt.Errorf("session manager: generate token: %w", err)
	}

	updates := map[string]any{
		"token":     token,
		"issued_at": now,
	}
	if err := m.db.Model(record).Updates(updates).Error; err != nil {
		return fmt.Errorf("session manager: rotate session: %w", err)
	}

	record.Token = token
	record.IssuedAt = now
	m.setCookie(c, token)
	metrics.SessionRotations.Inc()

	return nil
}

func (m *Manager) setCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Secure:   isSecureRequest(c.Request),
		HttpOnly: true,
		MaxAge:   int(m.lifetime.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Secure:   isSecureRequest(c.Request),
		HttpOnly: true,
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}

// CleanupExpired removes expired session rows. Expiry is otherwise only
// noticed lazily, so the maintenance cleaner calls this on a schedule.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := m.now()

	var activeExpired int64
	if err := m.db.WithContext(ctx).Model(&models.Session{}).
		Where("expires_at < ? AND user_id IS NOT NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session manager: count expired sessions: %w", err)
	}

	result := m.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session manager: cleanup expired sessions: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	return strings.EqualFold(scheme, "https")
}
