package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/internal/auth"
	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/pkg/crypto"
	apperrors "github.com/tranqk/schoolhub/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrEmailTaken indicates the email already belongs to an account.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "Email already registered", http.StatusConflict)
)

// CreateUserInput describes the fields accepted when an administrator
// provisions an account directly.
type CreateUserInput struct {
	Email    string
	FullName string
	Password string
	Phone    string
	Roles    []models.RoleName
	IsActive *bool
}

// UserFilters captures listing filters.
type UserFilters struct {
	IsActive *bool
	Role     models.RoleName
	Query    string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Filters  UserFilters
}

// UserService manages the administrative user lifecycle: provisioning,
// listing, activation, and role assignment. Self-service flows live in the
// auth service.
type UserService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, audit *AuditService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, audit: audit}, nil
}

// Create provisions a new user with a hashed password and the given roles,
// including the per-role profile rows, in one transaction.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := strings.TrimSpace(input.Email)
	fullName := strings.TrimSpace(input.FullName)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if fullName == "" {
		return nil, apperrors.NewBadRequest("full name is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}
	for _, role := range input.Roles {
		if !role.Known() {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", role))
		}
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("user service: check email: %w", err)
	}
	if existing > 0 {
		return nil, ErrEmailTaken
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Email:    email,
		Password: &hashed,
		FullName: fullName,
		Phone:    strings.TrimSpace(input.Phone),
		IsActive: true,
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		for _, role := range input.Roles {
			if err := auth.AttachRole(tx, user, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: "user.create",
		Result: AuditResultSuccess,
	})

	return user, nil
}

// Get returns a user with roles preloaded.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// List returns paginated users ordered by creation time descending.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.User{})

	if opts.Filters.IsActive != nil {
		query = query.Where("is_active = ?", *opts.Filters.IsActive)
	}
	if q := strings.TrimSpace(opts.Filters.Query); q != "" {
		like := "%" + q + "%"
		query = query.Where("email LIKE ? OR full_name LIKE ?", like, like)
	}
	if role := opts.Filters.Role; role != "" {
		query = query.
			Joins("JOIN user_roles ON user_roles.user_id = users.id").
			Joins("JOIN roles ON roles.id = user_roles.role_id").
			Where("roles.name = ?", role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Preload("Roles").
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// SetActive activates or deactivates an account. Deactivation also removes
// the user's sessions so the lockout takes effect immediately.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).Where("id = ?", id).Update("is_active", active)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		if !active {
			return tx.Where("user_id = ?", id).Delete(&models.Session{}).Error
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("user service: set active: %w", err)
	}

	action := "user.activate"
	if !active {
		action = "user.deactivate"
	}
	recordAudit(s.audit, ctx, AuditEntry{
		UserID: &id,
		Action: action,
		Result: AuditResultSuccess,
	})

	return nil
}

// AssignRoles replaces the user's role set and provisions profile rows for
// newly granted teacher or student roles.
func (s *UserService) AssignRoles(ctx context.Context, id string, roles []models.RoleName) error {
	ctx = ensureContext(ctx)

	for _, role := range roles {
		if !role.Known() {
			return apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", role))
		}
	}

	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("user service: find user: %w", err)
	}

	current := make(map[models.RoleName]struct{}, len(user.Roles))
	for _, role := range user.Roles {
		current[role.Name] = struct{}{}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Association("Roles").Clear(); err != nil {
			return err
		}
		for _, role := range roles {
			if _, had := current[role]; had {
				// Re-attach without re-provisioning the profile row
				var record models.Role
				if err := tx.Where("name = ?", role).Take(&record).Error; err != nil {
					return err
				}
				if err := tx.Model(&user).Association("Roles").Append(&record); err != nil {
					return err
				}
				continue
			}
			if err := auth.AttachRole(tx, &user, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("user service: assign roles: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID: &id,
		Email:  user.Email,
		Action: "user.assign_roles",
		Result: AuditResultSuccess,
	})

	return nil
}
