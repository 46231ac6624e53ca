// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	keys     map[string]*AuthorizedKey // keyed by public key
	sessions map[string]*ChatSession   // keyed by session ID
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		keys:     make(map[string]*AuthorizedKey),
		sessions: make(map[string]*ChatSession),
	}
}

// CreateAuthorizedKey stores a new key.
func (m *MockStore) CreateAuthorizedKey(ctx context.Context, key *AuthorizedKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[key.PublicKey]; exists {
		return ErrDuplicateKey
	}

	k := *key
	m.keys[k.PublicKey] = &k
	return nil
}

// GetAuthorizedKey retrieves a key by public key.
func (m *MockStore) GetAuthorizedKey(ctx context.Context, publicKey string) (*AuthorizedKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[publicKey]
	if !ok {
		return nil, ErrNotFound
	}
	k := *key
	return &k, nil
}

// ListAuthorizedKeys returns all keys, newest first.
func (m *MockStore) ListAuthorizedKeys(ctx context.Context) ([]*AuthorizedKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*AuthorizedKey, 0, len(m.keys))
	for _, key := range m.keys {
		k := *key
		keys = append(keys, &k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// TouchAuthorizedKey updates last_used_at.
func (m *MockStore) TouchAuthorizedKey(ctx context.Context, publicKey string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[publicKey]
	if !ok {
		return ErrNotFound
	}
	t := usedAt
	key.LastUsedAt = &t
	return nil
}

// RevokeAuthorizedKey flips is_active to false.
func (m *MockStore) RevokeAuthorizedKey(ctx context.Context, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[publicKey]
	if !ok {
		return ErrNotFound
	}
	key.IsActive = false
	return nil
}

// DeleteAuthorizedKey removes the key and its sessions.
func (m *MockStore) DeleteAuthorizedKey(ctx context.Context, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[publicKey]; !ok {
		return ErrNotFound
	}
	delete(m.keys, publicKey)
	for id, sess := range m.sessions {
		if sess.PublicKey == publicKey {
			delete(m.sessions, id)
		}
	}
	return nil
}

// DeleteExpiredKeys removes expired keys and their sessions.
func (m *MockStore) DeleteExpiredKeys(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for pub, key := range m.keys {
		if now.After(key.ExpiresAt) {
			delete(m.keys, pub)
			count++
			for id, sess := range m.sessions {
				if sess.PublicKey == pub {
					delete(m.sessions, id)
				}
			}
		}
	}
	return count, nil
}

// CreateChatSession stores a new session.
func (m *MockStore) CreateChatSession(ctx context.Context, session *ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *session
	m.sessions[s.SessionID] = &s
	return nil
}

// GetChatSession retrieves a session by ID.
func (m *MockStore) GetChatSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s := *sess
	return &s, nil
}

// GetActiveSessionByKey returns the most recently created active session.
func (m *MockStore) GetActiveSessionByKey(ctx context.Context, publicKey string) (*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *ChatSession
	for _, sess := range m.sessions {
		if sess.PublicKey != publicKey || !sess.IsActive {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	s := *latest
	return &s, nil
}

// TouchChatSession bumps last_activity_at.
func (m *MockStore) TouchChatSession(ctx context.Context, sessionID string, activityAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.LastActivityAt = activityAt
	return nil
}

// DeactivateChatSession flips is_active to false.
func (m *MockStore) DeactivateChatSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.IsActive = false
	return nil
}

// DeleteChatSession removes a session row.
func (m *MockStore) DeleteChatSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// ListStaleSessions returns active sessions idle since before cutoff.
func (m *MockStore) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*ChatSession
	for _, sess := range m.sessions {
		if sess.IsActive && sess.LastActivityAt.Before(cutoff) {
			s := *sess
			stale = append(stale, &s)
		}
	}
	sortByActivity(stale)
	return stale, nil
}

// ListInactiveSessions returns all deactivated sessions.
func (m *MockStore) ListInactiveSessions(ctx context.Context) ([]*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var inactive []*ChatSession
	for _, sess := range m.sessions {
		if !sess.IsActive {
			s := *sess
			inactive = append(inactive, &s)
		}
	}
	sortByActivity(inactive)
	return inactive, nil
}

// LookupActiveSession finds an active session by alias, public key, or
// Matrix user ID.
func (m *MockStore) LookupActiveSession(ctx context.Context, query string) (*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *ChatSession
	for _, sess := range m.sessions {
		if !sess.IsActive {
			continue
		}
		if sess.Alias != query && sess.PublicKey != query && sess.MatrixUserID != query {
			continue
		}
		if latest == nil || sess.LastActivityAt.After(latest.LastActivityAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	s := *latest
	return &s, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

func sortByActivity(sessions []*ChatSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.Before(sessions[j].LastActivityAt)
	})
}
