package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/tranqk/schoolhub/internal/auth"
	"github.com/tranqk/schoolhub/internal/handlers"
	"github.com/tranqk/schoolhub/internal/middleware"
	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/internal/services"
	"github.com/tranqk/schoolhub/internal/session"
)

// Deps bundles everything the router needs.
type Deps struct {
	DB       *gorm.DB
	Sessions *session.Manager
	Auth     *iauth.Service
	Users    *services.UserService
	Audit    *services.AuditService

	// Health lists optional dependencies (redis, smtp relay) to include
	// in readiness checks, keyed by display name.
	Health map[string]handlers.Pinger

	// RateStore backs request rate limiting; nil disables it.
	RateStore   middleware.RateStore
	RateLimit   int
	RateWindow  time.Duration
	LoginLimit  int
	LoginWindow time.Duration
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager must be provided")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service must be provided")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user service must be provided")
	}

	r := gin.New()

	// Global middleware; the session runs before CSRF because tokens live
	// in the session document.
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Session(deps.Sessions))
	r.Use(middleware.CSRF())
	r.Use(middleware.RateLimit(deps.RateStore, deps.RateLimit, deps.RateWindow))

	r.NoRoute(middleware.NotFoundHandler)

	// Public observability endpoints
	r.GET("/health", handlers.Health(deps.DB, deps.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(deps.Auth, deps.Audit)

	// Credential endpoints get a tighter limit than the rest of the app.
	loginLimit := middleware.RateLimit(deps.RateStore, deps.LoginLimit, deps.LoginWindow)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", loginLimit, authHandler.Register)
		auth.POST("/login", loginLimit, authHandler.Login)
		auth.GET("/google", authHandler.GoogleRedirect)
		auth.GET("/google/callback", authHandler.GoogleCallback)
		auth.POST("/password/forgot", loginLimit, authHandler.ForgotPassword)
		auth.POST("/password/reset", loginLimit, authHandler.ResetPassword)
		auth.GET("/flashes", authHandler.Flashes)
		auth.GET("/csrf", authHandler.CSRF)
	}

	// Authenticated routes
	api := r.Group("/api")
	api.Use(middleware.RequireLogin())

	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)
	api.PUT("/auth/profile", authHandler.UpdateProfile)
	api.POST("/auth/password", authHandler.ChangePassword)

	// Administrative routes
	userHandler := handlers.NewUserHandler(deps.Users)

	manageUsers := middleware.RequireRole(models.RoleAdmin, models.RolePrincipal)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	users := api.Group("/users")
	{
		users.GET("", manageUsers, userHandler.List)
		users.GET("/:id", manageUsers, userHandler.Get)
		users.POST("", adminOnly, userHandler.Create)
		users.POST("/:id/activate", adminOnly, userHandler.Activate)
		users.POST("/:id/deactivate", adminOnly, userHandler.Deactivate)
		users.PUT("/:id/roles", adminOnly, userHandler.AssignRoles)
	}

	if deps.Audit != nil {
		auditHandler := handlers.NewAuditHandler(deps.Audit)
		api.GET("/audit", adminOnly, auditHandler.List)
	}

	return r, nil
}
