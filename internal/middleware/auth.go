package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/internal/session"
	apperrors "github.com/tranqk/schoolhub/pkg/errors"
	"github.com/tranqk/schoolhub/pkg/metrics"
	"github.com/tranqk/schoolhub/pkg/response"
)

// LoginPath is where browser clients are sent when a page requires a login.
const LoginPath = "/login"

// RequireLogin gates handlers behind an authenticated session. Browser
// requests are redirected to the login page with the original path remembered
// for after login; API clients get a plain 401.
func RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := session.FromGin(c)
		if ok && sess.IsAuthenticated() {
			c.Next()
			return
		}

		if wantsHTML(c) {
			if ok {
				_ = sess.SetIntendedPath(c.Request.URL.RequestURI())
			}
			c.Redirect(http.StatusFound, LoginPath)
			c.Abort()
			return
		}

		response.Error(c, apperrors.ErrUnauthorized)
		c.Abort()
	}
}

// RequireRole allows the request through when the session user holds any of
// the given roles. Unauthenticated requests are rejected as unauthorized, not
// forbidden, so the two cases stay distinguishable to clients.
func RequireRole(roles ...models.RoleName) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := session.FromGin(c)
		if !ok || !sess.IsAuthenticated() {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		user, err := sess.CurrentUser()
		if err != nil || user == nil {
			metrics.RoleChecks.WithLabelValues("denied").Inc()
			response.Error(c, apperrors.ErrForbidden)
			c.Abort()
			return
		}

		if !user.HasAnyRole(roles...) {
			metrics.RoleChecks.WithLabelValues("denied").Inc()
			response.Error(c, apperrors.ErrForbidden)
			c.Abort()
			return
		}

		metrics.RoleChecks.WithLabelValues("allowed").Inc()
		c.Next()
	}
}

func wantsHTML(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	return strings.Contains(accept, "text/html")
}
