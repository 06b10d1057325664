package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tranqk/schoolhub/internal/models"
)

func TestRequireLoginRejectsAnonymousAPIClient(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.engine.GET("/private", RequireLogin(), func(c *gin.Context) {
		c.String(http.StatusOK, "secret")
	})

	w := f.do(t, http.MethodGet, "/private", nil, nil)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "UNAUTHORIZED")
	require.NotContains(t, w.Body.String(), "secret")
}

func TestRequireLoginRedirectsBrowserWithIntendedPath(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.engine.GET("/private", RequireLogin(), func(c *gin.Context) {
		c.String(http.StatusOK, "secret")
	})

	w := f.do(t, http.MethodGet, "/private?tab=grades", nil, func(req *http.Request) {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	})

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, LoginPath, w.Header().Get("Location"))

	// The original destination survives in the same session.
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	intended := f.do(t, http.MethodGet, "/test/intended", cookies, nil)
	require.Equal(t, http.StatusOK, intended.Code)
	require.Equal(t, "/private?tab=grades", intended.Body.String())
}

func TestRequireLoginAllowsAuthenticatedSession(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.engine.GET("/private", RequireLogin(), func(c *gin.Context) {
		c.String(http.StatusOK, "secret")
	})

	user := f.createUser(t, "mw.login@school.test")
	cookies := f.login(t, user.ID)

	w := f.do(t, http.MethodGet, "/private", cookies, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "secret", w.Body.String())
}

func TestRequireRole(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.engine.GET("/admin", RequireRole(models.RoleAdmin, models.RolePrincipal), func(c *gin.Context) {
		c.String(http.StatusOK, "admin area")
	})

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/admin", nil, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong role is forbidden", func(t *testing.T) {
		teacher := f.createUser(t, "mw.teacher@school.test", models.RoleTeacher)
		cookies := f.login(t, teacher.ID)

		w := f.do(t, http.MethodGet, "/admin", cookies, nil)
		require.Equal(t, http.StatusForbidden, w.Code)
		require.Contains(t, w.Body.String(), "FORBIDDEN")
	})

	t.Run("any listed role passes", func(t *testing.T) {
		principal := f.createUser(t, "mw.principal@school.test", models.RolePrincipal)
		cookies := f.login(t, principal.ID)

		w := f.do(t, http.MethodGet, "/admin", cookies, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "admin area", w.Body.String())
	})
}
