package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/tranqk/schoolhub/internal/api"
	"github.com/tranqk/schoolhub/internal/app"
	"github.com/tranqk/schoolhub/internal/app/maintenance"
	iauth "github.com/tranqk/schoolhub/internal/auth"
	"github.com/tranqk/schoolhub/internal/auth/google"
	"github.com/tranqk/schoolhub/internal/cache"
	"github.com/tranqk/schoolhub/internal/database"
	"github.com/tranqk/schoolhub/internal/handlers"
	"github.com/tranqk/schoolhub/internal/middleware"
	"github.com/tranqk/schoolhub/internal/services"
	"github.com/tranqk/schoolhub/internal/session"
	"github.com/tranqk/schoolhub/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Redis    *cache.RedisStore
	Sessions *session.Manager
	AuthSvc  *iauth.Service
	UserSvc  *services.UserService
	AuditSvc *services.AuditService
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = database.Open(cfg.Database.DatabaseConfigFor())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrateAndSeed(stack.DB); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(cfg.Cache.RedisStoreConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	stack.Sessions, err = session.NewManager(stack.DB, cfg.Session.SessionManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session manager: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	googleClient, err := google.NewClient(ctx, cfg.Auth.GoogleClientConfig(), google.Options{})
	if err != nil {
		return nil, fmt.Errorf("initialise google client: %w", err)
	}
	if !googleClient.IsConfigured() {
		log.Info("google login disabled; no client credentials configured")
	}

	var mailer mail.Mailer
	if cfg.Email.SMTP.Enabled {
		mailer, err = mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise mailer: %w", err)
		}
	}

	var resets *iauth.ResetTokens
	if strings.TrimSpace(cfg.Auth.Reset.Secret) != "" {
		resets, err = iauth.NewResetTokens(cfg.Auth.ResetTokenConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise reset tokens: %w", err)
		}
	} else {
		log.Warn("password reset disabled; auth.reset.secret not configured")
	}

	stack.AuthSvc, err = iauth.NewService(stack.DB, googleClient, mailer, resets, iauth.Config{
		SealKey: []byte(cfg.Auth.SealKey),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise auth service: %w", err)
	}

	stack.UserSvc, err = services.NewUserService(stack.DB, stack.AuditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.Sessions, stack.AuditSvc,
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
		maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		maintenance.WithTokenSchedule(cfg.Maintenance.TokenSchedule),
	)
	if cfg.Maintenance.Enabled {
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	var rateStore middleware.RateStore
	if cfg.RateLimit.Enabled {
		switch {
		case stack.Redis != nil:
			rateStore = middleware.NewStoreRateStore(stack.Redis)
		case dbStore != nil:
			rateStore = middleware.NewStoreRateStore(dbStore)
		default:
			rateStore = middleware.NewMemoryRateStore()
		}
	}

	health := map[string]handlers.Pinger{}
	if stack.Redis != nil {
		health["redis"] = stack.Redis
	}

	stack.Router, err = api.NewRouter(api.Deps{
		DB:          stack.DB,
		Sessions:    stack.Sessions,
		Auth:        stack.AuthSvc,
		Users:       stack.UserSvc,
		Audit:       stack.AuditSvc,
		Health:      health,
		RateStore:   rateStore,
		RateLimit:   cfg.RateLimit.Requests,
		RateWindow:  cfg.RateLimit.Window,
		LoginLimit:  cfg.RateLimit.LoginRequests,
		LoginWindow: cfg.RateLimit.LoginWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown releases resources in reverse dependency order.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Warn("maintenance jobs did not stop in time")
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis close failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Warn("database close failed", zap.Error(err))
			}
		}
	}
}
