package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultResetTokenTTL bounds how long an emailed reset link stays valid.
const DefaultResetTokenTTL = time.Hour

const resetPurpose = "password_reset"

// ResetTokenConfig bundles the configuration for the reset token issuer.
type ResetTokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

type resetClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// ResetTokens issues and verifies the signed, self-expiring tokens embedded
// in password reset links. Tokens are single-purpose: access tokens or other
// JWTs signed with the same secret never verify here.
type ResetTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewResetTokens constructs the issuer.
func NewResetTokens(cfg ResetTokenConfig) (*ResetTokens, error) {
	if cfg.Secret == "" {
		return nil, errors.New("reset tokens: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &ResetTokens{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// Issue signs a reset token for the given user.
func (r *ResetTokens) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("reset tokens: user id is required")
	}

	now := r.now()
	claims := &resetClaims{
		Purpose: resetPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    r.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("reset tokens: sign: %w", err)
	}
	return signed, nil
}

// Verify parses a reset token and returns the user id it was issued for.
func (r *ResetTokens) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("reset tokens: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
	)

	var claims resetClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("reset tokens: parse: %w", err)
	}

	if claims.Purpose != resetPurpose {
		return "", errors.New("reset tokens: wrong purpose")
	}
	if r.issuer != "" && claims.Issuer != r.issuer {
		return "", errors.New("reset tokens: invalid issuer")
	}
	if claims.Subject == "" {
		return "", errors.New("reset tokens: missing subject")
	}

	return claims.Subject, nil
}
