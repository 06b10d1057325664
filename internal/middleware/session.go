package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tranqk/schoolhub/internal/session"
	apperrors "github.com/tranqk/schoolhub/pkg/errors"
	"github.com/tranqk/schoolhub/pkg/logger"
	"github.com/tranqk/schoolhub/pkg/response"
)

// Session attaches a session context to every request, creating an anonymous
// session when the browser does not present a valid cookie. The session's
// last activity timestamp is stamped after the handler runs.
func Session(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := manager.Bootstrap(c)
		if err != nil {
			logger.WithModule("session").Error("session bootstrap failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			response.Error(c, apperrors.ErrInternalServer)
			c.Abort()
			return
		}

		c.Next()

		if sess.IsAuthenticated() {
			if err := sess.Touch(); err != nil {
				logger.WithModule("session").Warn("session touch failed", zap.Error(err))
			}
		}
	}
}
