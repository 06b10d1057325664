package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/tranqk/schoolhub/internal/auth"
	"github.com/tranqk/schoolhub/internal/database/testutil"
	"github.com/tranqk/schoolhub/internal/middleware"
	"github.com/tranqk/schoolhub/internal/services"
	"github.com/tranqk/schoolhub/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type authFixture struct {
	engine  *gin.Engine
	db      *gorm.DB
	cookies []*http.Cookie
}

// newAuthFixture assembles the real stack end to end: session middleware,
// auth service, audit trail, and the HTTP handlers, backed by the test
// database. Only the mailer and Google client are absent.
func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	sessions, err := session.NewManager(db, session.Config{})
	require.NoError(t, err)

	resets, err := iauth.NewResetTokens(iauth.ResetTokenConfig{Secret: "reset-secret", Issuer: "schoolhub-test"})
	require.NoError(t, err)

	svc, err := iauth.NewService(db, nil, nil, resets, iauth.Config{})
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	h := NewAuthHandler(svc, audit)

	engine := gin.New()
	engine.Use(middleware.Session(sessions))

	api := engine.Group("/api/auth")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.GET("/flashes", h.Flashes)
	api.GET("/csrf", h.CSRF)
	api.POST("/password/forgot", h.ForgotPassword)

	private := api.Group("", middleware.RequireLogin())
	private.GET("/me", h.Me)
	private.POST("/logout", h.Logout)
	private.PUT("/profile", h.UpdateProfile)
	private.POST("/password", h.ChangePassword)

	return &authFixture{engine: engine, db: db}
}

// request performs a JSON request, carrying the fixture's cookie jar forward.
func (f *authFixture) request(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range f.cookies {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	if fresh := w.Result().Cookies(); len(fresh) > 0 {
		f.cookies = fresh
	}

	var env envelope
	if w.Body.Len() > 0 && json.Valid(w.Body.Bytes()) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestAuthFlowRegisterLoginMeLogout(t *testing.T) {
	f := newAuthFixture(t)

	w, env := f.request(t, http.MethodPost, "/api/auth/register", gin.H{
		"email":     "flow.user@school.test",
		"full_name": "Flow User",
		"password":  "flow-password",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, env.Success)

	// Anonymous sessions cannot see /me.
	w, _ = f.request(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = f.request(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "flow.user@school.test",
		"password": "flow-password",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.Success)

	var loginData struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		Redirect string `json:"redirect"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &loginData))
	require.Equal(t, "flow.user@school.test", loginData.User.Email)

	w, env = f.request(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	require.Equal(t, "flow.user@school.test", me.Email)
	require.Equal(t, "Flow User", me.FullName)

	w, _ = f.request(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.request(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginFailureIsGenericAndAudited(t *testing.T) {
	f := newAuthFixture(t)

	w, env := f.request(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "no.account@school.test",
		"password": "whatever",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	require.Equal(t, "Invalid email or password", env.Error.Message)

	audit, err := services.NewAuditService(f.db)
	require.NoError(t, err)
	logs, total, err := audit.List(nil, services.AuditListOptions{
		Filters: services.AuditFilters{
			Action: services.AuditActionLogin,
			Result: services.AuditResultFailure,
		},
	})
	require.NoError(t, err)
	require.NotZero(t, total)

	found := false
	for _, log := range logs {
		if log.Email == "no.account@school.test" {
			found = true
			require.Nil(t, log.UserID)
		}
	}
	require.True(t, found)
}

func TestUpdateProfileRefreshesSnapshot(t *testing.T) {
	f := newAuthFixture(t)

	_, _ = f.request(t, http.MethodPost, "/api/auth/register", gin.H{
		"email":     "rename.me@school.test",
		"full_name": "Old Name",
		"password":  "secret-pw",
	})
	w, _ := f.request(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "rename.me@school.test",
		"password": "secret-pw",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Prime the cached snapshot.
	w, _ = f.request(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.request(t, http.MethodPut, "/api/auth/profile", gin.H{
		"full_name": "New Name",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := f.request(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		FullName string `json:"full_name"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	require.Equal(t, "New Name", me.FullName)
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newAuthFixture(t)

	_, _ = f.request(t, http.MethodPost, "/api/auth/register", gin.H{
		"email":     "endpoint.pw@school.test",
		"full_name": "Endpoint PW",
		"password":  "first-pw",
	})
	w, _ := f.request(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "endpoint.pw@school.test",
		"password": "first-pw",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := f.request(t, http.MethodPost, "/api/auth/password", gin.H{
		"current_password": "wrong",
		"new_password":     "second-pw",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INCORRECT_PASSWORD", env.Error.Code)

	w, _ = f.request(t, http.MethodPost, "/api/auth/password", gin.H{
		"current_password": "first-pw",
		"new_password":     "second-pw",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The session survives a password change; only the credential moved.
	w, _ = f.request(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestForgotPasswordNeverConfirmsAccounts(t *testing.T) {
	f := newAuthFixture(t)

	w, env := f.request(t, http.MethodPost, "/api/auth/password/forgot", gin.H{
		"email": "ghost@school.test",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.Success)
	require.Contains(t, env.Message, "If that address has an account")
}

func TestFlashesAreReadOnce(t *testing.T) {
	f := newAuthFixture(t)

	// Prime a session.
	w, _ := f.request(t, http.MethodGet, "/api/auth/csrf", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// No flashes yet: empty list, not null.
	w, env := f.request(t, http.MethodGet, "/api/auth/flashes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "[]", string(env.Data))
}

func TestCSRFEndpointIsStablePerSession(t *testing.T) {
	f := newAuthFixture(t)

	_, env := f.request(t, http.MethodGet, "/api/auth/csrf", nil)
	var first struct {
		Token string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &first))
	require.NotEmpty(t, first.Token)

	_, env = f.request(t, http.MethodGet, "/api/auth/csrf", nil)
	var second struct {
		Token string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &second))
	require.Equal(t, first.Token, second.Token)
}
