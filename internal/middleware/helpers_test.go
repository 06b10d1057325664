package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/internal/database/testutil"
	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type middlewareFixture struct {
	db       *gorm.DB
	sessions *session.Manager
	engine   *gin.Engine
}

// newMiddlewareFixture wires a gin engine with the session middleware plus a
// few plumbing routes tests use to drive session state.
func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	sessions, err := session.NewManager(db, session.Config{})
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(Session(sessions))

	engine.POST("/test/login/:id", func(c *gin.Context) {
		sess := session.MustFromGin(c)
		require.NoError(t, sess.BindUser(c.Param("id")))
		c.Status(http.StatusOK)
	})
	engine.GET("/test/csrf", func(c *gin.Context) {
		sess := session.MustFromGin(c)
		token, err := sess.CSRFToken()
		require.NoError(t, err)
		c.String(http.StatusOK, token)
	})
	engine.GET("/test/intended", func(c *gin.Context) {
		sess := session.MustFromGin(c)
		path, err := sess.PopIntendedPath()
		require.NoError(t, err)
		c.String(http.StatusOK, path)
	})

	return &middlewareFixture{db: db, sessions: sessions, engine: engine}
}

// do performs a request against the fixture engine, carrying any cookies from
// a previous response so tests can span multiple requests.
func (f *middlewareFixture) do(t *testing.T, method, target string, cookies []*http.Cookie, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	if mutate != nil {
		mutate(req)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *middlewareFixture) createUser(t *testing.T, email string, roles ...models.RoleName) *models.User {
	t.Helper()

	user := &models.User{Email: email, FullName: "Test User", IsActive: true}
	require.NoError(t, f.db.Create(user).Error)

	for _, name := range roles {
		var role models.Role
		require.NoError(t, f.db.Take(&role, "name = ?", name).Error)
		require.NoError(t, f.db.Model(user).Association("Roles").Append(&role))
	}
	return user
}

// login binds a user to a fresh session and returns the resulting cookies.
func (f *middlewareFixture) login(t *testing.T, userID string) []*http.Cookie {
	t.Helper()

	w := f.do(t, http.MethodPost, "/test/login/"+userID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}
