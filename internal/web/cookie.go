package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/avolkov/graphport/internal/session"
)

// currentSession resolves the browser's session from the request cookie.
// A missing or unknown cookie yields a fresh session with a new identifier;
// the session only reaches the store (and the cookie the browser) once the
// handler calls saveSession.
func (s *Server) currentSession(r *http.Request) (string, *session.Data) {
	cookie, err := r.Cookie(s.cfg.Session.CookieName)
	if err == nil && cookie.Value != "" {
		data, err := s.store.Get(r.Context(), cookie.Value)
		if err == nil {
			return cookie.Value, data
		}
		if !errors.Is(err, session.ErrNotFound) {
			slog.Error("failed to load session", "error", err)
		}
	}

	id, err := session.NewID()
	if err != nil {
		// crypto/rand failure; an empty id makes saveSession a no-op
		slog.Error("failed to generate session id", "error", err)
		return "", &session.Data{}
	}
	return id, &session.Data{}
}

// saveSession persists the session and (re)issues the cookie.
func (s *Server) saveSession(w http.ResponseWriter, r *http.Request, id string, data *session.Data) {
	if id == "" {
		return
	}

	if err := s.store.Put(r.Context(), id, data); err != nil {
		slog.Error("failed to save session", "error", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.TLS.Enabled,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   s.cfg.Session.Timeout,
	})
}

// clearSession deletes the server-side session and expires the cookie.
func (s *Server) clearSession(w http.ResponseWriter, r *http.Request, id string) {
	if id != "" {
		if err := s.store.Delete(r.Context(), id); err != nil {
			slog.Error("failed to delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:   s.cfg.Session.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
