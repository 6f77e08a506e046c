package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// memoryEntry wraps session data with its expiry deadline.
type memoryEntry struct {
	data      *Data
	expiresAt time.Time
}

// MemoryStore is an in-memory session store with TTL-based cleanup.
// It is thread-safe and supports concurrent access.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*memoryEntry
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewMemoryStore creates a new in-memory store with the specified session
// lifetime. It automatically starts a background cleanup goroutine that
// runs every minute.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions:      make(map[string]*memoryEntry),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(1 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	// Start cleanup goroutine
	go s.cleanupLoop()

	return s
}

// Get returns the session for id, or ErrNotFound if it is missing or expired.
func (s *MemoryStore) Get(_ context.Context, id string) (*Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Check expiry
	if time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}

	return entry.data, nil
}

// Put stores the session for id and restarts its expiry window.
func (s *MemoryStore) Put(_ context.Context, id string, data *Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = &memoryEntry{
		data:      data,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// Delete removes the session for id.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cleanupTicker.Stop()
	close(s.stopCleanup)
	return nil
}

// Count returns the current number of stored sessions.
// Useful for monitoring and testing.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// cleanupLoop runs in a background goroutine and periodically removes
// expired sessions. It stops when the stopCleanup channel is closed.
func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired sessions from the store.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	expiredCount := 0

	for id, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, id)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		slog.Info("cleaned up expired sessions", "count", expiredCount)
	}
}
