package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/avolkov/graphport/internal/graph"
)

// Flash copy shown after a form submission was handed to the downstream API.
const (
	flashSubmitOK     = "Your message has been successfully submitted to the corresponding API."
	flashSubmitFailed = "There is an error that occurred. Please refer to the debug log for more information."
	flashTaskOK       = "Your task has been successfully submitted to the corresponding API."
)

// defaultMailBody pre-fills the demo mail form.
const defaultMailBody = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do " +
	"eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim " +
	"veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo " +
	"consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum " +
	"dolore eu fugiat nulla pariatur."

// defaultMailSubject stamps the demo subject with the submission time.
func defaultMailSubject(now time.Time) string {
	return "TEST MESSAGE [" + now.Format("02/01/2006 15:04:05") + "]"
}

// handleSendMail renders and processes the send-mail form.
//
// A valid submission issues exactly one sendMail call; the user sees a
// success or generic failure flash, and the subject/content fields reset to
// their defaults either way. An invalid submission re-renders with inline
// errors and performs no downstream call.
func (s *Server) handleSendMail(w http.ResponseWriter, r *http.Request) {
	id, data := s.currentSession(r)
	if !data.Authenticated() {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	token := s.tokenFromSession(r.Context(), id, data)
	if token == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	// The "from" address and the user id for the sendMail route both come
	// from the profile.
	profile, err := s.graph.MyProfile(r.Context(), token.AccessToken)
	if err != nil {
		s.renderError(w, "Could not load the user profile. Please refer to the debug log for more information.")
		return
	}

	form := &SendMailForm{}
	fieldErrors := map[string]string{}

	if r.Method == http.MethodPost {
		form = parseSendMailForm(r)
		fieldErrors = validateForm(form)

		if len(fieldErrors) == 0 {
			err := s.graph.SendMail(r.Context(), token.AccessToken, profile.ID, graph.Mail{
				Recipient:       form.Recipient,
				Subject:         form.Subject,
				Content:         form.Content,
				SaveToSentItems: form.SaveToSentItems,
			})
			if err != nil {
				slog.Error("send mail failed",
					"recipient", sanitizeLog(form.Recipient),
					"error", err,
				)
				data.Flashes = append(data.Flashes, flashSubmitFailed)
			} else {
				data.Flashes = append(data.Flashes, flashSubmitOK)
			}

			// Processed submissions clear the form back to defaults
			form = &SendMailForm{}
		}
	}

	// Subject and content always reset to their placeholders; only the
	// recipient survives a failed validation for correction.
	form.Subject = defaultMailSubject(time.Now())
	form.Content = defaultMailBody

	s.render(w, "send_mail.html", map[string]any{
		"FromEmail": profile.UserPrincipalName,
		"Form":      form,
		"Errors":    fieldErrors,
		"Flashes":   s.popFlashes(r.Context(), id, data),
	})
}
