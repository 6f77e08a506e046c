package oidc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/avolkov/graphport/internal/tokencache"
)

// ErrStateMismatch is returned by ExchangeCode when the callback's state
// parameter does not match the pending flow (or no flow is pending). This
// usually indicates CSRF or a replayed callback; callers are expected to
// discard it silently and redirect home rather than surface an error page.
var ErrStateMismatch = errors.New("oidc: callback state does not match pending flow")

// expirySkew is subtracted from token expiry when deciding whether a cached
// access token is still usable, so tokens are refreshed slightly early.
const expirySkew = 60 * time.Second

// AuthFlow is the server-side state of one pending authorization attempt.
// It is created by StartAuthFlow, stored in the session, and consumed
// exactly once by ExchangeCode.
type AuthFlow struct {
	// AuthURL is the complete authorization URL to redirect the browser to
	AuthURL string `json:"auth_url"`

	// State is the anti-forgery state parameter
	State string `json:"state"`

	// CodeVerifier is the PKCE code verifier (must be retained for token exchange)
	CodeVerifier string `json:"code_verifier"`

	// Scopes are the scopes requested for this flow
	Scopes []string `json:"scopes"`

	// CreatedAt is when the flow was started
	CreatedAt time.Time `json:"created_at"`
}

// Token is the result of a successful code exchange or silent acquisition.
type Token struct {
	// AccessToken is the OAuth2 access token used against the downstream API
	AccessToken string `json:"-"`

	// RefreshToken is the OAuth2 refresh token (if offline_access was granted)
	RefreshToken string `json:"-"`

	// IDToken is the raw OIDC ID token (JWT)
	IDToken string `json:"-"`

	// TokenType is the token type, normally "Bearer"
	TokenType string

	// Claims are the verified claims from the ID token
	Claims map[string]any

	// Expiry is when the access token expires
	Expiry time.Time
}

// ExpiresIn returns the remaining token lifetime in whole seconds.
func (t *Token) ExpiresIn() int64 {
	remaining := time.Until(t.Expiry)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

// ProviderError is an error response returned by the identity provider
// during the authorization flow (e.g. access_denied). It is rendered to the
// user as a diagnostic page, not retried.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider error: %s", e.Code)
	}
	return fmt.Sprintf("provider error: %s: %s", e.Code, e.Description)
}

// StartAuthFlow initiates an authorization-code flow with PKCE.
// It generates the PKCE verifier/challenge and anti-forgery state,
// constructs the authorization URL, and returns the flow state to be
// retained server-side. No side effects beyond randomness generation.
func (c *Client) StartAuthFlow(scopes []string) (*AuthFlow, error) {
	// Generate PKCE verifier and challenge
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	challenge := generateCodeChallenge(verifier)

	// Generate state for CSRF protection
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	cfg := c.oauth2Config
	if len(scopes) > 0 {
		scoped := *c.oauth2Config
		scoped.Scopes = scopes
		cfg = &scoped
	}

	// Construct authorization URL with PKCE parameters
	authURL := cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	return &AuthFlow{
		AuthURL:      authURL,
		State:        state,
		CodeVerifier: verifier,
		Scopes:       cfg.Scopes,
		CreatedAt:    time.Now(),
	}, nil
}

// ExchangeCode completes the authorization-code flow from the provider's
// callback query parameters.
//
// The callback's state must match the pending flow's state; otherwise
// ErrStateMismatch is returned, even when the callback carries an error
// parameter: a provider error is only honored for the flow it belongs to.
// Genuine provider error responses are returned as a *ProviderError. On
// success the ID token is verified (signature, issuer, audience, expiry),
// its claims are decoded, and the token is recorded in cache under the
// account's "sub" claim as a side effect.
func (c *Client) ExchangeCode(ctx context.Context, flow *AuthFlow, query url.Values, cache *tokencache.Cache) (*Token, error) {
	state := query.Get("state")
	if flow == nil || state == "" || state != flow.State {
		return nil, ErrStateMismatch
	}

	if errCode := query.Get("error"); errCode != "" {
		return nil, &ProviderError{
			Code:        errCode,
			Description: query.Get("error_description"),
		}
	}

	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("no authorization code in callback")
	}

	// Exchange authorization code for tokens
	token, err := c.oauth2Config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", flow.CodeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	// Extract ID token
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}

	// Verify ID token (signature, issuer, audience, expiry)
	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	// Parse claims from ID token
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	result := &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
		TokenType:    tokenType(token),
		Claims:       claims,
		Expiry:       token.Expiry,
	}

	// Record the tokens under the authenticated account
	cache.Put(idToken.Subject, tokencache.Entry{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		IDToken:      result.IDToken,
		TokenType:    result.TokenType,
		Expiry:       result.Expiry,
		Claims:       claims,
	})

	return result, nil
}

// AcquireTokenSilent returns a valid access token from the cache without
// user interaction, or nil when the user must re-authenticate via redirect.
//
// If the cached access token is unexpired it is returned without any
// network call. If it has expired and a refresh token exists, the token is
// refreshed against the provider and the cache is updated. A nil token with
// a nil error means "no usable token": no cached account, or the refresh
// failed (e.g. refresh token revoked or expired).
func (c *Client) AcquireTokenSilent(ctx context.Context, cache *tokencache.Cache) (*Token, error) {
	accounts := cache.Accounts()
	if len(accounts) == 0 {
		return nil, nil
	}

	// The cache lives in one browser session, so all accounts in it belong
	// to the current signed-in user. Use the first.
	account := accounts[0]
	entry, _ := cache.Get(account)

	if time.Now().Before(entry.Expiry.Add(-expirySkew)) {
		return &Token{
			AccessToken:  entry.AccessToken,
			RefreshToken: entry.RefreshToken,
			IDToken:      entry.IDToken,
			TokenType:    entry.TokenType,
			Claims:       entry.Claims,
			Expiry:       entry.Expiry,
		}, nil
	}

	if entry.RefreshToken == "" {
		slog.Debug("cached token expired and no refresh token available", "account", account)
		return nil, nil
	}

	// Refresh the access token. TokenSource performs the refresh grant
	// because the seeded token is already expired.
	ts := c.oauth2Config.TokenSource(ctx, &oauth2.Token{
		AccessToken:  entry.AccessToken,
		RefreshToken: entry.RefreshToken,
		TokenType:    entry.TokenType,
		Expiry:       entry.Expiry,
	})

	refreshed, err := ts.Token()
	if err != nil {
		slog.Warn("silent token refresh failed", "account", account, "error", err)
		return nil, nil
	}

	entry.AccessToken = refreshed.AccessToken
	entry.TokenType = tokenType(refreshed)
	entry.Expiry = refreshed.Expiry
	if refreshed.RefreshToken != "" {
		entry.RefreshToken = refreshed.RefreshToken
	}
	if raw, ok := refreshed.Extra("id_token").(string); ok && raw != "" {
		entry.IDToken = raw
		if claims, err := decodeJWTPayload(raw); err == nil {
			entry.Claims = claims
		}
	}
	cache.Put(account, entry)

	return &Token{
		AccessToken:  entry.AccessToken,
		RefreshToken: entry.RefreshToken,
		IDToken:      entry.IDToken,
		TokenType:    entry.TokenType,
		Claims:       entry.Claims,
		Expiry:       entry.Expiry,
	}, nil
}

func tokenType(t *oauth2.Token) string {
	if t.TokenType == "" {
		return "Bearer"
	}
	return t.TokenType
}

// decodeJWTPayload extracts and decodes the payload (second segment) of a
// JWT. It does NOT verify the signature; it is only used to refresh the
// locally cached claims after a silent refresh, where the original ID token
// was already verified during the code exchange.
func decodeJWTPayload(token string) (map[string]any, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("not a valid JWT: expected 3 parts, got %d", len(parts))
	}

	// Decode base64url payload (second segment)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload: %w", err)
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse JWT payload: %w", err)
	}

	return claims, nil
}

// generateCodeVerifier creates a cryptographically random PKCE code verifier.
// The verifier is 32 random bytes encoded as base64url (43 characters).
// Per RFC 7636, the verifier must be 43-128 characters.
func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// generateCodeChallenge creates a PKCE code challenge from the verifier.
// It uses the S256 method: BASE64URL(SHA256(ASCII(verifier)))
func generateCodeChallenge(verifier string) string {
	h := sha256.New()
	h.Write([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// generateState creates a random state parameter for CSRF protection.
// The state is 16 random bytes encoded as hex (32 characters).
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
