package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/tranqk/schoolhub/pkg/logger"
)

const (
	issuerURL   = "https://accounts.google.com"
	userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	defaultTimeout = 10 * time.Second
)

// ErrNotConfigured signals that Google sign-in is unavailable because client
// credentials were not supplied. Callers treat this as "feature disabled".
var ErrNotConfigured = errors.New("google: client id and secret are not configured")

// Config carries the OAuth client credentials and redirect target.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Profile is the decoded identity returned by Google for a signed-in user.
type Profile struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Options tunes the client, primarily for tests.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration

	// Endpoint and UserInfoURL override the Google defaults in tests.
	Endpoint    *oauth2.Endpoint
	UserInfoURL string
}

// Client wraps the three Google OAuth interactions the login flow needs:
// building the consent URL, exchanging the authorization code, and fetching
// the user's profile. Failures are terminal for the attempt; nothing retries.
type Client struct {
	oauth       *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client
	userInfoURL string
	timeout     time.Duration
}

// NewClient builds a Google OAuth client. When credentials are missing it
// still succeeds, reporting IsConfigured() == false, so the rest of the app
// can run with Google sign-in disabled.
func NewClient(ctx context.Context, cfg Config, opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	userInfo := opts.UserInfoURL
	if userInfo == "" {
		userInfo = userInfoURL
	}

	client := &Client{
		httpClient:  httpClient,
		userInfoURL: userInfo,
		timeout:     timeout,
	}

	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return client, nil
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	endpoint := googleoauth.Endpoint
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}

	client.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}

	// ID-token verification is best effort: when issuer discovery fails
	// (offline dev environments) the callback falls back to the userinfo
	// endpoint alone.
	if opts.Endpoint == nil {
		discoveryCtx, cancel := context.WithTimeout(oidc.ClientContext(ctx, httpClient), timeout)
		defer cancel()

		if provider, err := oidc.NewProvider(discoveryCtx, issuerURL); err == nil {
			client.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		} else {
			logger.WithModule("google").Warn("oidc discovery unavailable, skipping id token verification", zap.Error(err))
		}
	}

	return client, nil
}

// IsConfigured reports whether both client id and secret were supplied.
func (c *Client) IsConfigured() bool {
	return c != nil && c.oauth != nil
}

// AuthURL builds the deterministic consent URL. access_type=offline and
// prompt=consent are fixed so a refresh token is issued on every consent.
// The empty string is the sentinel for "Google sign-in disabled".
func (c *Client) AuthURL(state string) string {
	if !c.IsConfigured() {
		return ""
	}
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token payload. One POST, no
// retries: a transport or provider failure fails the login attempt.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("google: authorization code is required")
	}

	ctx, cancel := context.WithTimeout(oauth2ClientContext(ctx, c.httpClient), c.timeout)
	defer cancel()

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google: exchange code: %w", err)
	}
	return token, nil
}

// UserInfo fetches the signed-in user's profile with a single bearer GET.
func (c *Client) UserInfo(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	if token == nil || token.AccessToken == "" {
		return nil, errors.New("google: access token is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("google: build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: userinfo returned status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("google: decode userinfo: %w", err)
	}
	if profile.Sub == "" {
		return nil, errors.New("google: userinfo missing subject")
	}
	return &profile, nil
}

// VerifyIDToken validates the id_token from an exchange when the verifier is
// available. It returns (nil, nil) when verification is not possible so the
// caller can fall back to UserInfo.
func (c *Client) VerifyIDToken(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	if c.verifier == nil {
		return nil, nil
	}

	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	idToken, err := c.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("google: verify id token: %w", err)
	}

	var profile Profile
	if err := idToken.Claims(&profile); err != nil {
		return nil, fmt.Errorf("google: decode id token claims: %w", err)
	}
	if profile.Sub == "" {
		profile.Sub = idToken.Subject
	}
	return &profile, nil
}

func oauth2ClientContext(ctx context.Context, client *http.Client) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}
