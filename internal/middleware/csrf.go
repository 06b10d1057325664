package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tranqk/schoolhub/internal/session"
	apperrors "github.com/tranqk/schoolhub/pkg/errors"
	"github.com/tranqk/schoolhub/pkg/logger"
	"github.com/tranqk/schoolhub/pkg/response"
)

const (
	// CSRFHeaderName is the header API clients present for unsafe methods.
	CSRFHeaderName = "X-CSRF-Token"
	// CSRFFormField is the hidden form field browser clients submit.
	CSRFFormField = "_csrf"
)

var unsafeMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// CSRF validates mutating requests against the token stored in the session.
// A missing session, missing token, or mismatch rejects the request before
// any handler runs. Safe methods pass through untouched; handlers obtain the
// token from the session when rendering forms.
func CSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isUnsafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		sess, ok := session.FromGin(c)
		if !ok {
			response.Error(c, apperrors.ErrCSRFInvalid)
			c.Abort()
			return
		}

		candidate := strings.TrimSpace(c.GetHeader(CSRFHeaderName))
		if candidate == "" {
			candidate = strings.TrimSpace(c.PostForm(CSRFFormField))
		}

		if !sess.VerifyCSRF(candidate) {
			// Token contents are never logged
			logger.WithModule("csrf").Warn("csrf validation failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
			)
			response.Error(c, apperrors.ErrCSRFInvalid)
			c.Abort()
			return
		}

		c.Next()
	}
}

func isUnsafeMethod(method string) bool {
	_, ok := unsafeMethods[method]
	return ok
}
