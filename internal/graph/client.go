// Package graph is a thin authenticated gateway to the Microsoft Graph
// REST API: user profile, mail submission, and to-do task operations.
// One request per user action: no retries, no pagination, no partial-failure
// recovery. Non-success statuses surface as errors whose detail is written
// to the diagnostic log only, never shown to the user.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avolkov/graphport/internal/config"
	"github.com/avolkov/graphport/internal/logsanitize"
)

// ErrListNotFound is returned by CreateTask when no to-do list with the
// expected name exists for the user.
var ErrListNotFound = errors.New("graph: task list not found")

// tasksListName is the well-known default list tasks are created in.
const tasksListName = "Tasks"

// maxLoggedBody caps how much of an error response body is written to the
// diagnostic log.
const maxLoggedBody = 2048

// Client issues authenticated requests against the Graph API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Graph gateway for the configured endpoint.
func NewClient(cfg *config.GraphConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
	}
}

// Profile is the subset of the signed-in user's profile the app uses.
type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// TaskList is one of the user's to-do task lists.
type TaskList struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Mail is an outgoing message submitted via SendMail.
type Mail struct {
	Recipient       string
	Subject         string
	Content         string
	SaveToSentItems bool
}

// Me fetches the signed-in user's full profile as returned by the API.
func (c *Client) Me(ctx context.Context, accessToken string) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint+"/v1.0/me", accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus("GET /v1.0/me", resp)
	}

	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	return profile, nil
}

// MyProfile fetches the typed profile fields the handlers need (user id for
// API routes, principal name for the mail form).
func (c *Client) MyProfile(ctx context.Context, accessToken string) (*Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint+"/v1.0/me", accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus("GET /v1.0/me", resp)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	return &profile, nil
}

// SendMail submits a message on behalf of userID. The API acknowledges an
// accepted submission with 202; anything else is a failure.
func (c *Client) SendMail(ctx context.Context, accessToken, userID string, mail Mail) error {
	// saveToSentItems is sent as a lowercase string, matching the wire
	// format the API documents for this field.
	save := "false"
	if mail.SaveToSentItems {
		save = "true"
	}

	payload := map[string]any{
		"message": map[string]any{
			"subject": mail.Subject,
			"body": map[string]any{
				"contentType": "HTML",
				"content":     mail.Content,
			},
			"toRecipients": []map[string]any{
				{"emailAddress": map[string]any{"address": mail.Recipient}},
			},
		},
		"saveToSentItems": save,
	}

	url := fmt.Sprintf("%s/v1.0/users/%s/sendMail", c.endpoint, userID)
	resp, err := c.do(ctx, http.MethodPost, url, accessToken, payload)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		return c.unexpectedStatus("POST sendMail", resp)
	}
	return nil
}

// ListTaskLists fetches the user's to-do task lists.
func (c *Client) ListTaskLists(ctx context.Context, accessToken string) ([]TaskList, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint+"/v1.0/me/todo/lists", accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus("GET todo lists", resp)
	}

	var lists struct {
		Value []TaskList `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lists); err != nil {
		return nil, fmt.Errorf("failed to decode task lists response: %w", err)
	}
	return lists.Value, nil
}

// CreateTask creates a task titled title in the user's "Tasks" list.
//
// This is a compound operation: the list identifier is resolved with a
// lookup call first, then the task is posted. If no list named "Tasks"
// exists, ErrListNotFound is returned and no task is created. The API
// acknowledges a created task with 201.
func (c *Client) CreateTask(ctx context.Context, accessToken, userID, title string) error {
	lists, err := c.ListTaskLists(ctx, accessToken)
	if err != nil {
		return err
	}

	listID := ""
	for _, list := range lists {
		if list.DisplayName == tasksListName {
			listID = list.ID
			break
		}
	}
	if listID == "" {
		return ErrListNotFound
	}

	payload := map[string]any{"title": title}
	url := fmt.Sprintf("%s/v1.0/users/%s/todo/lists/%s/tasks", c.endpoint, userID, listID)
	resp, err := c.do(ctx, http.MethodPost, url, accessToken, payload)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return c.unexpectedStatus("POST create task", resp)
	}
	return nil
}

// do issues a single bearer-authenticated request. A non-nil payload is
// sent as a JSON body.
func (c *Client) do(ctx context.Context, method, url, accessToken string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	return resp, nil
}

// unexpectedStatus logs the status and (truncated) body for diagnostics and
// returns an error that carries no response detail. Users only ever see a
// generic failure message; the body stays in the log.
func (c *Client) unexpectedStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody+1))
	slog.Error("graph call failed",
		"op", op,
		"status", resp.StatusCode,
		"body", logsanitize.Field(string(body), maxLoggedBody),
	)
	return fmt.Errorf("graph: %s returned status %d", op, resp.StatusCode)
}
