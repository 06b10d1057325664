package app

import (
	iauth "github.com/tranqk/schoolhub/internal/auth"
	"github.com/tranqk/schoolhub/internal/auth/google"
	"github.com/tranqk/schoolhub/internal/cache"
	"github.com/tranqk/schoolhub/internal/database"
	"github.com/tranqk/schoolhub/internal/session"
	"github.com/tranqk/schoolhub/pkg/mail"
)

// DatabaseConfigFor converts the loaded configuration into the database
// package's connection settings.
func (c DatabaseConfig) DatabaseConfigFor() database.Config {
	return database.Config{
		Driver:   c.Driver,
		Path:     c.Path,
		DSN:      c.DSN,
		Host:     c.Host,
		Port:     c.Port,
		Name:     c.Name,
		User:     c.User,
		Password: c.Password,
		Options:  c.Options,
	}
}

// RedisStoreConfig converts cache settings for the Redis store.
func (c CacheConfig) RedisStoreConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  c.Redis.Address,
		Username: c.Redis.Username,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// SessionManagerConfig converts session settings for the session manager.
func (c SessionConfig) SessionManagerConfig() session.Config {
	return session.Config{
		Lifetime:    c.Lifetime,
		RotateAfter: c.RotateAfter,
		TokenLength: c.TokenLength,
		CookieName:  c.CookieName,
	}
}

// GoogleClientConfig converts auth settings for the Google OAuth client.
func (c AuthConfig) GoogleClientConfig() google.Config {
	return google.Config{
		ClientID:     c.Google.ClientID,
		ClientSecret: c.Google.ClientSecret,
		RedirectURL:  c.Google.RedirectURL,
	}
}

// ResetTokenConfig converts auth settings for the reset token issuer.
func (c AuthConfig) ResetTokenConfig() iauth.ResetTokenConfig {
	return iauth.ResetTokenConfig{
		Secret: c.Reset.Secret,
		Issuer: c.Reset.Issuer,
		TTL:    c.Reset.TTL,
	}
}

// SMTPSettings converts email settings for the mailer.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}
