package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)

	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/schoolhub.sqlite", cfg.Database.Path)

	require.Equal(t, 24*time.Hour, cfg.Session.Lifetime)
	require.Equal(t, 30*time.Minute, cfg.Session.RotateAfter)
	require.Equal(t, "schoolhub_session", cfg.Session.CookieName)
	require.Equal(t, 32, cfg.Session.TokenLength)

	require.Equal(t, "schoolhub", cfg.Auth.Reset.Issuer)
	require.Equal(t, time.Hour, cfg.Auth.Reset.TTL)

	require.False(t, cfg.Cache.Redis.Enabled)
	require.False(t, cfg.Email.SMTP.Enabled)

	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, 300, cfg.RateLimit.Requests)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, 10, cfg.RateLimit.LoginRequests)

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@hourly", cfg.Maintenance.SessionSchedule)
	require.Equal(t, 90, cfg.Maintenance.AuditRetentionDays)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := `
server:
  port: 9001
  log_level: debug
session:
  lifetime: 12h
  rotate_after: 15m
database:
  driver: postgres
  host: db.internal
  port: 5432
  name: schoolhub
  user: app
rate_limit:
  enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9001, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 12*time.Hour, cfg.Session.Lifetime)
	require.Equal(t, 15*time.Minute, cfg.Session.RotateAfter)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.False(t, cfg.RateLimit.Enabled)

	// Untouched keys keep their defaults.
	require.Equal(t, "schoolhub_session", cfg.Session.CookieName)
	require.Equal(t, 300, cfg.RateLimit.Requests)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SCHOOLHUB_SERVER_PORT", "9002")
	t.Setenv("SCHOOLHUB_SESSION_ROTATE_AFTER", "45m")
	t.Setenv("SCHOOLHUB_AUTH_SEAL_KEY", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9002, cfg.Server.Port)
	require.Equal(t, 45*time.Minute, cfg.Session.RotateAfter)
	require.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.SealKey)
}
