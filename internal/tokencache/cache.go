// Package tokencache implements a serializable per-session token cache.
//
// The cache maps account identities (the "sub" claim of the ID token) to
// their issued tokens. Its serialized form is an opaque string the rest of
// the application stores in the web session; a dirty flag tells callers
// whether the blob needs re-persisting after a token acquisition or refresh.
package tokencache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry holds the tokens issued for one account.
type Entry struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	Expiry       time.Time      `json:"expiry"`
	Claims       map[string]any `json:"claims,omitempty"`
}

// Cache is a mapping from account identity to issued tokens.
// It is owned by a single request at a time (load from session, mutate,
// save back); it is not safe for concurrent use.
type Cache struct {
	entries map[string]Entry
	dirty   bool
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Accounts returns the account identities present in the cache.
func (c *Cache) Accounts() []string {
	accounts := make([]string, 0, len(c.entries))
	for account := range c.entries {
		accounts = append(accounts, account)
	}
	return accounts
}

// Get returns the entry for an account, if present.
func (c *Cache) Get(account string) (Entry, bool) {
	entry, ok := c.entries[account]
	return entry, ok
}

// Put stores an entry for an account and marks the cache dirty.
func (c *Cache) Put(account string, entry Entry) {
	c.entries[account] = entry
	c.dirty = true
}

// Remove deletes an account from the cache and marks it dirty if present.
func (c *Cache) Remove(account string) {
	if _, ok := c.entries[account]; ok {
		delete(c.entries, account)
		c.dirty = true
	}
}

// Len returns the number of accounts in the cache.
func (c *Cache) Len() int {
	return len(c.entries)
}

// HasStateChanged reports whether the cache was mutated since it was last
// serialized or deserialized. Callers use it to skip needless session writes.
func (c *Cache) HasStateChanged() bool {
	return c.dirty
}

// Serialize encodes the cache to its opaque string form and clears the
// dirty flag.
func (c *Cache) Serialize() (string, error) {
	data, err := json.Marshal(c.entries)
	if err != nil {
		return "", fmt.Errorf("failed to serialize token cache: %w", err)
	}
	c.dirty = false
	return string(data), nil
}

// Deserialize replaces the cache contents from a previously serialized
// string. An empty string yields an empty cache. The dirty flag is cleared:
// the cache now matches its persisted form.
func (c *Cache) Deserialize(s string) error {
	entries := make(map[string]Entry)
	if s != "" {
		if err := json.Unmarshal([]byte(s), &entries); err != nil {
			return fmt.Errorf("failed to deserialize token cache: %w", err)
		}
	}
	c.entries = entries
	c.dirty = false
	return nil
}
