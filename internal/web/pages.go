package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/avolkov/graphport/internal/session"
)

// render renders a page template with the given data.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// renderError renders the generic error page
func (s *Server) renderError(w http.ResponseWriter, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	if err := s.templates.ExecuteTemplate(w, "error.html", map[string]string{"Error": errMsg}); err != nil {
		slog.Error("failed to render error template", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// popFlashes drains the session's one-shot messages for display and
// persists the emptied list, so each message renders exactly once.
func (s *Server) popFlashes(ctx context.Context, id string, data *session.Data) []string {
	if len(data.Flashes) == 0 {
		return nil
	}

	msgs := data.Flashes
	data.Flashes = nil
	if err := s.store.Put(ctx, id, data); err != nil {
		slog.Error("failed to persist drained flashes", "error", err)
	}
	return msgs
}

// handleGraphCall renders the raw downstream profile response, proving the
// cached access token works end to end.
func (s *Server) handleGraphCall(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)

	token := s.tokenFromSession(r.Context(), id, data)
	if token == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	result, err := s.graph.Me(r.Context(), token.AccessToken)
	if err != nil {
		s.renderError(w, "The downstream call failed. Please refer to the debug log for more information.")
		return
	}

	s.render(w, "display.html", map[string]any{
		"Result": prettyJSON(result),
	})
}

// handleAccessToken shows the current access token and its remaining
// lifetime, refreshing it silently first if needed.
func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)

	token := s.tokenFromSession(r.Context(), id, data)
	if token == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	s.render(w, "get_access_token.html", map[string]any{
		"TokenType":   token.TokenType,
		"AccessToken": token.AccessToken,
		"ExpiresIn":   token.ExpiresIn(),
	})
}

// handleTasks renders the user's to-do task lists.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)

	token := s.tokenFromSession(r.Context(), id, data)
	if token == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	lists, err := s.graph.ListTaskLists(r.Context(), token.AccessToken)
	if err != nil {
		s.renderError(w, "Could not load task lists. Please refer to the debug log for more information.")
		return
	}

	s.render(w, "get_tasks.html", map[string]any{
		"Lists": lists,
	})
}

// handleUserProfile renders the user's downstream profile.
func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)

	token := s.tokenFromSession(r.Context(), id, data)
	if token == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	profile, err := s.graph.Me(r.Context(), token.AccessToken)
	if err != nil {
		s.renderError(w, "Could not load the user profile. Please refer to the debug log for more information.")
		return
	}

	s.render(w, "get_user_profile.html", map[string]any{
		"Profile": prettyJSON(profile),
	})
}

// prettyJSON formats a decoded JSON value for display.
func prettyJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(out)
}
