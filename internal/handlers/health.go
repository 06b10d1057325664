package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/pkg/response"
)

const healthCheckTimeout = 5 * time.Second

// Pinger describes a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports readiness: the database must answer, and every optional
// dependency supplied is checked too. Failures are combined into one error
// so the payload names everything that is down.
func Health(db *gorm.DB, deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthCheckTimeout)
		defer cancel()

		var combined error

		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				combined = multierr.Append(combined, fmt.Errorf("database: %w", err))
			}
		}

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				combined = multierr.Append(combined, fmt.Errorf("%s: %w", name, err))
			}
		}

		if combined != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"error":  combined.Error(),
			})
			return
		}

		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
