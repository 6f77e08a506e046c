package web

import (
	"net/http"

	"github.com/go-playground/validator/v10"
)

// validate is shared across form submissions; a validator instance caches
// struct metadata and is safe for concurrent use.
var validate = validator.New()

// SendMailForm is the send-mail form submission.
type SendMailForm struct {
	Recipient       string `validate:"required,email"`
	Subject         string `validate:"required"`
	Content         string `validate:"required"`
	SaveToSentItems bool
}

// CreateTaskForm is the create-task form submission.
type CreateTaskForm struct {
	Title string `validate:"required"`
}

// fieldMessages maps struct field + failed rule to the inline message shown
// next to the field.
var fieldMessages = map[string]string{
	"Recipient.required": "Recipient email address is required.",
	"Recipient.email":    "Recipient must be a valid email address.",
	"Subject.required":   "Subject is required.",
	"Content.required":   "Content is required.",
	"Title.required":     "Title is required.",
}

// parseSendMailForm binds the POST body to a SendMailForm.
func parseSendMailForm(r *http.Request) *SendMailForm {
	return &SendMailForm{
		Recipient:       r.PostFormValue("recipient"),
		Subject:         r.PostFormValue("subject"),
		Content:         r.PostFormValue("content"),
		SaveToSentItems: r.PostFormValue("save_to_sent_items") != "",
	}
}

// parseCreateTaskForm binds the POST body to a CreateTaskForm.
func parseCreateTaskForm(r *http.Request) *CreateTaskForm {
	return &CreateTaskForm{
		Title: r.PostFormValue("title"),
	}
}

// validateForm runs field validation and returns inline error messages
// keyed by field name. An empty map means the form is valid.
func validateForm(form any) map[string]string {
	fieldErrors := make(map[string]string)

	err := validate.Struct(form)
	if err == nil {
		return fieldErrors
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		fieldErrors[""] = "The submitted form could not be processed."
		return fieldErrors
	}

	for _, fieldErr := range validationErrors {
		if _, exists := fieldErrors[fieldErr.Field()]; exists {
			continue
		}
		msg, ok := fieldMessages[fieldErr.Field()+"."+fieldErr.Tag()]
		if !ok {
			msg = "Invalid value."
		}
		fieldErrors[fieldErr.Field()] = msg
	}

	return fieldErrors
}
