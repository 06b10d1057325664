package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/tranqk/schoolhub/internal/auth"
	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/internal/services"
	"github.com/tranqk/schoolhub/internal/session"
	apperrors "github.com/tranqk/schoolhub/pkg/errors"
	"github.com/tranqk/schoolhub/pkg/metrics"
	"github.com/tranqk/schoolhub/pkg/response"
)

// AuthHandler manages the authentication flows: registration, password and
// Google login, logout, profile and credential management.
type AuthHandler struct {
	svc   *iauth.Service
	audit *services.AuditService
}

func NewAuthHandler(svc *iauth.Service, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{svc: svc, audit: audit}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,max=120"`
	Password string `json:"password" validate:"required"`
	Phone    string `json:"phone" validate:"max=32"`
	Role     string `json:"role"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.svc.Register(requestContext(c), iauth.RegisterInput{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
		Phone:    req.Phone,
		Role:     models.RoleName(strings.TrimSpace(req.Role)),
	})
	if err != nil {
		h.logAudit(c, services.AuditEntry{
			Email:  strings.TrimSpace(req.Email),
			Action: services.AuditActionRegister,
			Result: services.AuditResultFailure,
		})
		response.Error(c, err)
		return
	}

	h.logAudit(c, services.AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: services.AuditActionRegister,
		Result: services.AuditResultSuccess,
	})

	response.Success(c, http.StatusCreated, userPayload(user))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	sess, _ := session.FromGin(c)
	user, err := h.svc.Login(requestContext(c), sess, req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
		h.logAudit(c, services.AuditEntry{
			Email:  strings.TrimSpace(req.Email),
			Action: services.AuditActionLogin,
			Result: services.AuditResultFailure,
		})
		response.Error(c, err)
		return
	}

	metrics.AuthAttempts.WithLabelValues("password", "success").Inc()
	h.logAudit(c, services.AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: services.AuditActionLogin,
		Result: services.AuditResultSuccess,
	})

	redirect := ""
	if sess != nil {
		redirect, _ = sess.PopIntendedPath()
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":     userPayload(user),
		"redirect": redirect,
	})
}

// GET /api/auth/google
//
// Redirects the browser to Google's consent screen. The session CSRF token
// doubles as the OAuth state parameter, binding the callback to this session.
func (h *AuthHandler) GoogleRedirect(c *gin.Context) {
	google := h.svc.Google()
	if !google.IsConfigured() {
		response.Error(c, apperrors.New("GOOGLE_LOGIN_DISABLED", "Google login is not configured", http.StatusServiceUnavailable))
		return
	}

	sess := session.MustFromGin(c)
	state, err := sess.CSRFToken()
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	c.Redirect(http.StatusFound, google.AuthURL(state))
}

// GET /api/auth/google/callback
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	sess := session.MustFromGin(c)

	fail := func(flash string) {
		metrics.AuthAttempts.WithLabelValues("google", "failure").Inc()
		h.logAudit(c, services.AuditEntry{
			Action: services.AuditActionLoginGoogle,
			Result: services.AuditResultFailure,
		})
		_ = sess.SetFlash("error", flash)
		c.Redirect(http.StatusFound, "/login")
	}

	if errCode := c.Query("error"); errCode != "" {
		fail("Google sign-in was cancelled.")
		return
	}
	if !sess.VerifyCSRF(c.Query("state")) {
		fail("Sign-in request could not be verified. Please try again.")
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		fail("Google sign-in failed. Please try again.")
		return
	}

	ctx := requestContext(c)
	google := h.svc.Google()

	token, err := google.Exchange(ctx, code)
	if err != nil {
		fail("Google sign-in failed. Please try again.")
		return
	}

	profile, err := google.UserInfo(ctx, token)
	if err != nil {
		fail("Google sign-in failed. Please try again.")
		return
	}

	user, err := h.svc.LoginWithGoogle(ctx, sess, profile, token)
	if err != nil {
		fail("Google sign-in failed. Please try again.")
		return
	}

	metrics.AuthAttempts.WithLabelValues("google", "success").Inc()
	h.logAudit(c, services.AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: services.AuditActionLoginGoogle,
		Result: services.AuditResultSuccess,
	})

	target, _ := sess.PopIntendedPath()
	if target == "" {
		target = "/"
	}
	_ = sess.SetFlash("success", "Signed in with Google.")
	c.Redirect(http.StatusFound, target)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sess, ok := session.FromGin(c)

	var userID string
	if ok {
		userID = sess.UserID()
	}

	if err := h.svc.Logout(sess); err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	if userID != "" {
		h.logAudit(c, services.AuditEntry{
			UserID: &userID,
			Action: services.AuditActionLogout,
			Result: services.AuditResultSuccess,
		})
	}

	response.SuccessWithMessage(c, http.StatusOK, "Signed out", nil)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	sess := session.MustFromGin(c)
	user, err := sess.CurrentUser()
	if err != nil || user == nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type updateProfileRequest struct {
	FullName  *string `json:"full_name" validate:"omitempty,max=120"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	PhotoPath *string `json:"photo_path" validate:"omitempty,max=255"`
}

// PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	fields := map[string]string{}
	if req.FullName != nil {
		fields["full_name"] = *req.FullName
	}
	if req.Phone != nil {
		fields["phone"] = *req.Phone
	}
	if req.PhotoPath != nil {
		fields["photo_path"] = *req.PhotoPath
	}

	sess := session.MustFromGin(c)
	if err := h.svc.UpdateProfile(requestContext(c), sess.UserID(), fields); err != nil {
		response.Error(c, err)
		return
	}

	// The cached snapshot is stale now
	_ = sess.InvalidateUserCache()

	response.SuccessWithMessage(c, http.StatusOK, "Profile updated", nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// POST /api/auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	sess := session.MustFromGin(c)
	userID := sess.UserID()

	if err := h.svc.ChangePassword(requestContext(c), userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.logAudit(c, services.AuditEntry{
			UserID: &userID,
			Action: services.AuditActionPasswordChange,
			Result: services.AuditResultFailure,
		})
		response.Error(c, err)
		return
	}

	h.logAudit(c, services.AuditEntry{
		UserID: &userID,
		Action: services.AuditActionPasswordChange,
		Result: services.AuditResultSuccess,
	})

	response.SuccessWithMessage(c, http.StatusOK, "Password changed", nil)
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/password/forgot
//
// Always answers 200 so the endpoint cannot confirm whether an address has
// an account.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	linkBase := schemeAndHost(c) + "/reset-password"
	if err := h.svc.RequestPasswordReset(requestContext(c), req.Email, linkBase); err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "If that address has an account, a reset link is on its way", nil)
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// POST /api/auth/password/reset
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.ResetPassword(requestContext(c), req.Token, req.NewPassword); err != nil {
		h.logAudit(c, services.AuditEntry{
			Action: services.AuditActionPasswordReset,
			Result: services.AuditResultFailure,
		})
		response.Error(c, err)
		return
	}

	h.logAudit(c, services.AuditEntry{
		Action: services.AuditActionPasswordReset,
		Result: services.AuditResultSuccess,
	})

	response.SuccessWithMessage(c, http.StatusOK, "Password updated", nil)
}

// GET /api/auth/flashes
//
// Reads and clears the queued flash messages; a second call returns an
// empty list.
func (h *AuthHandler) Flashes(c *gin.Context) {
	sess := session.MustFromGin(c)
	flashes, err := sess.PopFlashes()
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}
	if flashes == nil {
		flashes = []session.Flash{}
	}
	response.Success(c, http.StatusOK, flashes)
}

// GET /api/auth/csrf
func (h *AuthHandler) CSRF(c *gin.Context) {
	sess := session.MustFromGin(c)
	token, err := sess.CSRFToken()
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"csrf_token": token})
}

func (h *AuthHandler) logAudit(c *gin.Context, entry services.AuditEntry) {
	if h.audit == nil {
		return
	}
	entry.IPAddress = c.ClientIP()
	entry.UserAgent = c.Request.UserAgent()
	_ = h.audit.Log(requestContext(c), entry)
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"full_name":  user.FullName,
		"phone":      user.Phone,
		"photo_path": user.PhotoPath,
		"is_active":  user.IsActive,
		"roles":      user.RoleNames(),
	}
}

func schemeAndHost(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
