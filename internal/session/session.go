// Package session provides the per-browser server-side session: identity
// claims, the pending authorization flow, the serialized token cache, and
// one-shot flash messages. Sessions are keyed by an opaque identifier
// carried in a cookie and persisted behind the Store interface.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/avolkov/graphport/internal/oidc"
)

// ErrNotFound is returned by Store.Get when no session exists for the
// given identifier (never created, expired, or deleted).
var ErrNotFound = errors.New("session not found")

// Data is the state of one browser session.
//
// Flow is write-once-then-consumed: set by /login, consumed and cleared by
// the provider callback. A later /login overwrites any pending flow,
// intentionally invalidating it. User and TokenCache persist until logout
// or store expiry.
type Data struct {
	// User holds the decoded ID token claims after a successful login.
	// A session with no User is anonymous.
	User map[string]any `json:"user,omitempty"`

	// Flow is the pending authorization flow, if any
	Flow *oidc.AuthFlow `json:"flow,omitempty"`

	// TokenCache is the serialized token cache blob, opaque at this layer
	TokenCache string `json:"token_cache,omitempty"`

	// Flashes are one-shot messages shown on the next rendered page
	Flashes []string `json:"flashes,omitempty"`
}

// Authenticated reports whether the session carries a signed-in user.
func (d *Data) Authenticated() bool {
	return len(d.User) > 0
}

// Store persists session data keyed by an opaque session identifier.
// Implementations must treat each Get/Put/Delete as an atomic operation;
// read-modify-write cycles across calls are intentionally not serialized
// (see the token cache notes in the web handlers).
type Store interface {
	// Get returns the session for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Data, error)

	// Put stores the session for id and (re)starts its expiry.
	Put(ctx context.Context, id string, data *Data) error

	// Delete removes the session for id. Deleting a missing session is not
	// an error.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// NewID generates a cryptographically secure random session identifier.
// The ID is 64 hex characters (32 random bytes).
func NewID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
