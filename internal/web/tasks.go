package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/avolkov/graphport/internal/graph"
)

// handleCreateTask renders and processes the create-task form.
//
// Task creation is a compound operation: the "Tasks" list id is resolved
// with a lookup call before the task is posted. A missing "Tasks" list is
// an explicit failure (generic flash, nothing posted) rather than a write
// against an unresolved identifier.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)
	if !data.Authenticated() {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	form := &CreateTaskForm{}
	fieldErrors := map[string]string{}

	if r.Method == http.MethodPost {
		form = parseCreateTaskForm(r)
		fieldErrors = validateForm(form)

		if len(fieldErrors) == 0 {
			token := s.tokenFromSession(r.Context(), id, data)
			if token == nil {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}

			profile, err := s.graph.MyProfile(r.Context(), token.AccessToken)
			if err != nil {
				s.renderError(w, "Could not load the user profile. Please refer to the debug log for more information.")
				return
			}

			err = s.graph.CreateTask(r.Context(), token.AccessToken, profile.ID, form.Title)
			switch {
			case errors.Is(err, graph.ErrListNotFound):
				slog.Warn("task list not found, task not created",
					"title", sanitizeLog(form.Title),
				)
				data.Flashes = append(data.Flashes, flashSubmitFailed)
			case err != nil:
				slog.Error("create task failed",
					"title", sanitizeLog(form.Title),
					"error", err,
				)
				data.Flashes = append(data.Flashes, flashSubmitFailed)
			default:
				data.Flashes = append(data.Flashes, flashTaskOK)
			}

			form = &CreateTaskForm{}
		}
	}

	s.render(w, "create_task.html", map[string]any{
		"Form":    form,
		"Errors":  fieldErrors,
		"Flashes": s.popFlashes(r.Context(), id, data),
	})
}
