package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/internal/auth/google"
	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/internal/session"
	"github.com/tranqk/schoolhub/pkg/crypto"
	apperrors "github.com/tranqk/schoolhub/pkg/errors"
	"github.com/tranqk/schoolhub/pkg/logger"
	pkgmail "github.com/tranqk/schoolhub/pkg/mail"
)

// RegisterInput captures the details required to register a new account.
type RegisterInput struct {
	Email    string
	FullName string
	Password string
	Phone    string

	// Role optionally provisions a role and its matching profile row in the
	// same transaction as the user.
	Role models.RoleName
}

// Config describes tunable behaviour for the auth Service.
type Config struct {
	// SealKey encrypts stored OAuth tokens at rest. 16, 24, or 32 bytes.
	SealKey []byte
	Clock   func() time.Time
}

// Service implements registration, password login, Google login and account
// linking, logout, and credential management. Every multi-row write runs
// inside a transaction; partial writes never become visible.
type Service struct {
	db      *gorm.DB
	google  *google.Client
	mailer  pkgmail.Mailer
	resets  *ResetTokens
	sealKey []byte
	now     func() time.Time
	log     *zap.Logger
}

// NewService constructs the auth service. The Google client and mailer are
// optional; the corresponding flows report unavailable when absent.
func NewService(db *gorm.DB, googleClient *google.Client, mailer pkgmail.Mailer, resets *ResetTokens, cfg Config) (*Service, error) {
	if db == nil {
		return nil, errors.New("auth service: db is required")
	}

	switch len(cfg.SealKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("auth service: seal key must be 16, 24, or 32 bytes (got %d)", len(cfg.SealKey))
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &Service{
		db:      db,
		google:  googleClient,
		mailer:  mailer,
		resets:  resets,
		sealKey: cfg.SealKey,
		now:     clock,
		log:     logger.WithModule("auth"),
	}, nil
}

// Google exposes the OAuth client for the login entry points.
func (s *Service) Google() *google.Client { return s.google }

// Register validates the input, then creates the user row and — when a role
// is supplied — the role attachment and its profile row in one transaction.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	email := strings.TrimSpace(input.Email)
	fullName := strings.TrimSpace(input.FullName)

	if email == "" || fullName == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("email, full name and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.NewBadRequest("email address is not valid")
	}
	if input.Role != "" && !input.Role.Known() {
		return nil, apperrors.NewBadRequest("unknown role")
	}

	// Case-exact match; emails are stored exactly as given.
	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("auth service: check email: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateEmail
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("auth service: hash password: %w", err)
	}

	user := &models.User{
		Email:    email,
		Password: &hashed,
		FullName: fullName,
		Phone:    strings.TrimSpace(input.Phone),
		IsActive: true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if input.Role != "" {
			return AttachRole(tx, user, input.Role)
		}
		return nil
	})
	if err != nil {
		s.log.Error("registration transaction failed", zap.String("email", email), zap.Error(err))
		return nil, ErrRegistrationFailed
	}

	s.sendWelcomeEmail(ctx, user)

	return user, nil
}

// Login verifies the credential pair and binds the user to the request
// session. Unknown account, deactivated account, and wrong password are
// deliberately indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, sess *session.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth service: query user: %w", err)
	}

	if !user.IsActive || !user.HasPassword() || !crypto.VerifyPassword(*user.Password, password) {
		return nil, ErrInvalidCredentials
	}

	if err := s.establishSession(ctx, sess, &user); err != nil {
		return nil, err
	}

	return &user, nil
}

// LoginWithGoogle resolves the external identity to a local account, creating
// or linking one as needed, persists the token pair, and binds the session.
func (s *Service) LoginWithGoogle(ctx context.Context, sess *session.Context, profile *google.Profile, token *oauth2.Token) (*models.User, error) {
	if profile == nil || strings.TrimSpace(profile.Sub) == "" {
		return nil, ErrGoogleLoginFailed
	}

	user, err := s.resolveGoogleUser(ctx, profile)
	if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	if err := s.storeGoogleTokens(ctx, user.ID, token); err != nil {
		s.log.Error("google token storage failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, ErrGoogleLoginFailed
	}

	if err := s.establishSession(ctx, sess, user); err != nil {
		return nil, err
	}

	return user, nil
}

// resolveGoogleUser implements the three-step lookup: by external id, by
// email (linking in place, never duplicating an account), then creation.
func (s *Service) resolveGoogleUser(ctx context.Context, profile *google.Profile) (*models.User, error) {
	sub := strings.TrimSpace(profile.Sub)

	var user models.User
	err := s.db.WithContext(ctx).Where("google_id = ?", sub).Take(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("auth service: lookup by google id: %w", err)
	}

	email := strings.TrimSpace(profile.Email)
	if email != "" {
		err = s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
		if err == nil {
			updates := map[string]any{"google_id": sub}
			if profile.EmailVerified {
				updates["is_verified"] = true
			}
			if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("auth service: link google id: %w", err)
			}
			user.GoogleID = &sub
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("auth service: lookup by email: %w", err)
		}
	}

	if email == "" {
		return nil, ErrGoogleLoginFailed
	}

	role := DetectRoleFromEmail(email)

	created := &models.User{
		Email:      email,
		FullName:   strings.TrimSpace(profile.Name),
		PhotoPath:  strings.TrimSpace(profile.Picture),
		IsActive:   true,
		IsVerified: true, // the identity provider already verified the email
		GoogleID:   &sub,
	}
	if created.FullName == "" {
		created.FullName = email
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(created).Error; err != nil {
			return err
		}
		return AttachRole(tx, created, role)
	})
	if err != nil {
		s.log.Error("google account provisioning failed", zap.String("email", email), zap.Error(err))
		return nil, ErrGoogleLoginFailed
	}

	return created, nil
}

// storeGoogleTokens replaces the user's stored token pair. A missing access
// token skips storage entirely rather than failing the login.
func (s *Service) storeGoogleTokens(ctx context.Context, userID string, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return nil
	}
	if len(s.sealKey) == 0 {
		s.log.Warn("no seal key configured; skipping oauth token storage", zap.String("user_id", userID))
		return nil
	}

	access, err := crypto.Seal([]byte(token.AccessToken), s.sealKey)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}

	refresh := ""
	if token.RefreshToken != "" {
		refresh, err = crypto.Seal([]byte(token.RefreshToken), s.sealKey)
		if err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}

	record := models.OAuthToken{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		record.ExpiresAt = &expiry
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.OAuthToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
}

// Logout is a no-op for anonymous sessions; otherwise the session row is
// deleted and the state reset.
func (s *Service) Logout(sess *session.Context) error {
	if sess == nil {
		return nil
	}
	return sess.Unbind()
}

// profileWhitelist is the fixed set of editable profile columns. Anything
// else the caller supplies is discarded.
var profileWhitelist = map[string]struct{}{
	"full_name":  {},
	"phone":      {},
	"photo_path": {},
}

// UpdateProfile applies a whitelist-only partial update. Callers must
// invalidate the session's cached user snapshot afterwards.
func (s *Service) UpdateProfile(ctx context.Context, userID string, fields map[string]string) error {
	updates := make(map[string]any, len(fields))
	for key, value := range fields {
		if _, ok := profileWhitelist[key]; ok {
			updates[key] = strings.TrimSpace(value)
		}
	}
	if len(updates) == 0 {
		return ErrNoFieldsToUpdate
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("auth service: update profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ChangePassword verifies the current credential before overwriting it.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if newPassword == "" {
		return apperrors.NewBadRequest("new password is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("auth service: find user: %w", err)
	}

	if user.HasPassword() && !crypto.VerifyPassword(*user.Password, currentPassword) {
		return ErrIncorrectPassword
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("auth service: hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("auth service: update password: %w", err)
	}

	s.sendPasswordChangedEmail(ctx, &user)
	return nil
}

// RequestPasswordReset emails a signed reset link. Unknown addresses succeed
// silently so the endpoint cannot be used to enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email, linkBase string) error {
	if s.resets == nil {
		return errors.New("auth service: reset tokens not configured")
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return apperrors.NewBadRequest("email is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth service: query user: %w", err)
	}

	token, err := s.resets.Issue(user.ID)
	if err != nil {
		return fmt.Errorf("auth service: issue reset token: %w", err)
	}

	s.sendResetEmail(ctx, &user, strings.TrimRight(linkBase, "/")+"?token="+token)
	return nil
}

// ResetPassword consumes a reset token and overwrites the credential.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if s.resets == nil {
		return errors.New("auth service: reset tokens not configured")
	}
	if newPassword == "" {
		return apperrors.NewBadRequest("new password is required")
	}

	userID, err := s.resets.Verify(token)
	if err != nil {
		return ErrResetTokenInvalid
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("auth service: hash password: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).Update("password", hashed)
	if result.Error != nil {
		return fmt.Errorf("auth service: update password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// establishSession binds the user to the request session and stamps the
// login. Prior sessions for the user are removed by BindUser.
func (s *Service) establishSession(ctx context.Context, sess *session.Context, user *models.User) error {
	if sess == nil {
		return errors.New("auth service: session is required")
	}

	if err := sess.BindUser(user.ID); err != nil {
		return err
	}

	now := s.now()
	updates := map[string]any{
		"last_login_at": now,
		"last_login_ip": sess.IPAddress(),
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("auth service: stamp login: %w", err)
	}
	user.LastLoginAt = &now
	user.LastLoginIP = sess.IPAddress()

	return nil
}

// AttachRole associates the role with the user and provisions the matching
// profile row, all inside the caller's transaction.
func AttachRole(tx *gorm.DB, user *models.User, roleName models.RoleName) error {
	var role models.Role
	if err := tx.Where("name = ?", roleName).Take(&role).Error; err != nil {
		return fmt.Errorf("find role %s: %w", roleName, err)
	}

	if err := tx.Model(user).Association("Roles").Append(&role); err != nil {
		return fmt.Errorf("attach role %s: %w", roleName, err)
	}

	// Profile rows are keyed one-per-user, so a second teaching role (or a
	// re-grant) reuses the existing row.
	switch roleName {
	case models.RoleTeacher, models.RoleLeadingTeacher:
		var profile models.TeacherProfile
		return tx.Where(models.TeacherProfile{UserID: user.ID}).
			Attrs(models.TeacherProfile{StaffCode: "T-" + shortID()}).
			FirstOrCreate(&profile).Error
	case models.RoleStudent:
		var profile models.StudentProfile
		return tx.Where(models.StudentProfile{UserID: user.ID}).
			Attrs(models.StudentProfile{AdmissionNo: "S-" + shortID()}).
			FirstOrCreate(&profile).Error
	default:
		return nil
	}
}

func shortID() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

func (s *Service) sendWelcomeEmail(ctx context.Context, user *models.User) {
	body := fmt.Sprintf("Hello %s,\n\nYour account has been created. You can now sign in with your email address.\n", user.FullName)
	s.sendEmail(ctx, user.Email, "Welcome to SchoolHub", body)
}

func (s *Service) sendPasswordChangedEmail(ctx context.Context, user *models.User) {
	body := fmt.Sprintf("Hello %s,\n\nYour password was changed. If this wasn't you, contact the school office immediately.\n", user.FullName)
	s.sendEmail(ctx, user.Email, "Your password was changed", body)
}

func (s *Service) sendResetEmail(ctx context.Context, user *models.User, link string) {
	body := fmt.Sprintf("Hello %s,\n\nUse the link below to choose a new password. The link expires in one hour.\n\n%s\n", user.FullName, link)
	s.sendEmail(ctx, user.Email, "Password reset", body)
}

// sendEmail is best effort: delivery failures are logged, never surfaced.
func (s *Service) sendEmail(ctx context.Context, to, subject, body string) {
	if s.mailer == nil {
		return
	}
	err := s.mailer.Send(ctx, pkgmail.Message{To: []string{to}, Subject: subject, Body: body})
	if err != nil && !errors.Is(err, pkgmail.ErrSMTPDisabled) {
		s.log.Warn("email delivery failed", zap.String("to", to), zap.String("subject", subject), zap.Error(err))
	}
}
