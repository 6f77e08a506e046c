package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/avolkov/graphport/internal/oidc"
	"github.com/avolkov/graphport/internal/session"
	"github.com/avolkov/graphport/internal/tokencache"
)

// handleIndex renders the home page, or sends anonymous visitors to /login.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)
	if !data.Authenticated() {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	s.render(w, "index.html", map[string]any{
		"User":    data.User,
		"Flashes": s.popFlashes(r.Context(), id, data),
	})
}

// handleLogin starts a fresh authorization flow and stores it as the
// session's pending flow, overwriting (and thereby invalidating) any
// earlier one. The session never holds more than one pending flow.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)

	flow, err := s.oidcClient.StartAuthFlow(s.cfg.OIDC.Scopes)
	if err != nil {
		slog.Error("failed to start auth flow", "error", err)
		s.renderError(w, "Could not start sign-in. Please try again.")
		return
	}

	data.Flow = flow
	s.saveSession(w, r, id, data)

	s.render(w, "login.html", map[string]any{
		"AuthURL": flow.AuthURL,
	})
}

// handleCallback completes the authorization-code flow. The pending flow is
// consumed here exactly once: replaying the callback finds no flow and falls
// into the silent-redirect path.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)

	flow := data.Flow
	data.Flow = nil

	cache := tokencache.New()
	if err := cache.Deserialize(data.TokenCache); err != nil {
		slog.Warn("discarding undecodable token cache", "error", err)
	}

	token, err := s.oidcClient.ExchangeCode(r.Context(), flow, r.URL.Query(), cache)
	if err != nil {
		var provErr *oidc.ProviderError
		switch {
		case errors.As(err, &provErr):
			// The provider rejected the flow (e.g. access_denied). Shown
			// to the user as a diagnostic page; the pending flow is kept
			// so the open login attempt can still complete.
			data.Flow = flow
			s.saveSession(w, r, id, data)
			s.render(w, "auth_error.html", map[string]any{
				"Code":        provErr.Code,
				"Description": provErr.Description,
			})
		case errors.Is(err, oidc.ErrStateMismatch):
			// State mismatch usually means CSRF or a replayed callback.
			// Deliberately swallowed: the visitor is sent home without an
			// error page so flow-state anomalies never surface as crashes.
			slog.Warn("callback state mismatch, ignoring",
				"state_present", r.URL.Query().Get("state") != "",
			)
			s.saveSession(w, r, id, data)
			http.Redirect(w, r, "/", http.StatusFound)
		default:
			slog.Error("token exchange failed", "error", err)
			s.saveSession(w, r, id, data)
			s.render(w, "auth_error.html", map[string]any{
				"Code":        "token_exchange_failed",
				"Description": "The identity provider could not complete the sign-in.",
			})
		}
		return
	}

	data.User = token.Claims
	s.persistCache(r.Context(), data, cache)
	s.saveSession(w, r, id, data)

	slog.Info("user authenticated",
		"sub", sanitizeLog(subjectClaim(token.Claims)),
	)

	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout wipes the session (user and token cache) and sends the
// browser to the provider's end-session endpoint, which redirects back home.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(s.cfg.Session.CookieName)
	if err == nil {
		s.clearSession(w, r, cookie.Value)
	} else {
		s.clearSession(w, r, "")
	}

	http.Redirect(w, r, s.oidcClient.LogoutURL(s.baseURL+"/"), http.StatusFound)
}

// tokenFromSession returns a valid access token for the session, or nil
// when the user must sign in again. It loads the token cache from the
// session, asks the identity provider client for a silent token, and
// re-persists the cache only if it changed. The caller decides whether a
// nil token turns into a redirect; this helper never writes a response.
func (s *Server) tokenFromSession(ctx context.Context, id string, data *session.Data) *oidc.Token {
	cache := tokencache.New()
	if err := cache.Deserialize(data.TokenCache); err != nil {
		slog.Warn("discarding undecodable token cache", "error", err)
	}

	token, err := s.oidcClient.AcquireTokenSilent(ctx, cache)
	if err != nil {
		slog.Error("silent token acquisition failed", "error", err)
		return nil
	}

	if cache.HasStateChanged() {
		s.persistCache(ctx, data, cache)
		if err := s.store.Put(ctx, id, data); err != nil {
			slog.Error("failed to persist refreshed token cache", "error", err)
		}
	}

	return token
}

// persistCache serializes the cache into the session data if it changed
// since it was loaded, avoiding needless session writes.
func (s *Server) persistCache(_ context.Context, data *session.Data, cache *tokencache.Cache) {
	if !cache.HasStateChanged() {
		return
	}
	blob, err := cache.Serialize()
	if err != nil {
		slog.Error("failed to serialize token cache", "error", err)
		return
	}
	data.TokenCache = blob
}

// subjectClaim extracts the "sub" claim for logging.
func subjectClaim(claims map[string]any) string {
	sub, _ := claims["sub"].(string)
	return sub
}
