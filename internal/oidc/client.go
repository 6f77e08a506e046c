// Package oidc wraps the identity provider: OpenID Connect discovery,
// authorization-code flow with PKCE, code exchange, and silent token
// acquisition from a per-session token cache.
package oidc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/avolkov/graphport/internal/config"
)

// Client wraps the OIDC provider and OAuth2 configuration.
// It handles provider discovery, token exchange, ID token verification,
// and silent token refresh.
type Client struct {
	oidcProvider       *oidc.Provider
	oauth2Config       *oauth2.Config
	verifier           *oidc.IDTokenVerifier
	endSessionEndpoint string
}

// discoveryClaims captures the extra discovery metadata not surfaced by the
// go-oidc provider type.
type discoveryClaims struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// NewClient creates a new identity provider client using the specified
// configuration. It performs OIDC discovery via
// /.well-known/openid-configuration and sets up the OAuth2 configuration
// and ID token verifier.
func NewClient(ctx context.Context, cfg *config.OIDCConfig) (*Client, error) {
	// Discover OIDC configuration from issuer
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// Create OAuth2 config
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.Scopes,
	}

	// Create ID token verifier
	// This will verify the token signature, issuer, audience, and expiry
	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	// The end-session endpoint comes from discovery metadata when the
	// provider advertises one; otherwise fall back to the v2.0 logout path.
	var extra discoveryClaims
	if err := provider.Claims(&extra); err != nil || extra.EndSessionEndpoint == "" {
		extra.EndSessionEndpoint = cfg.Issuer + "/oauth2/v2.0/logout"
	}

	return &Client{
		oidcProvider:       provider,
		oauth2Config:       oauth2Config,
		verifier:           verifier,
		endSessionEndpoint: extra.EndSessionEndpoint,
	}, nil
}

// LogoutURL builds the provider's end-session URL, asking the provider to
// redirect the browser back to postLogoutRedirectURI afterwards.
func (c *Client) LogoutURL(postLogoutRedirectURI string) string {
	u, err := url.Parse(c.endSessionEndpoint)
	if err != nil {
		return c.endSessionEndpoint
	}
	q := u.Query()
	q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	u.RawQuery = q.Encode()
	return u.String()
}
