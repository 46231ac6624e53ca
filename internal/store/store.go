// ABOUTME: Store interface and data types for veil-gateway persistence
// ABOUTME: Defines AuthorizedKey, ChatSession structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when registering a public key that already exists.
var ErrDuplicateKey = errors.New("public key already registered")

// AuthorizedKey is a public key registered as permitted to authenticate.
// The base64-encoded Ed25519 public key is the primary identity; no profile
// or personal data is attached to it.
type AuthorizedKey struct {
	PublicKey  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	IsActive   bool
	LastUsedAt *time.Time
}

// Expired reports whether the key's expiry has passed.
func (k *AuthorizedKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// Usable reports whether the key may authenticate: active and not expired.
func (k *AuthorizedKey) Usable(now time.Time) bool {
	return k.IsActive && !k.Expired(now)
}

// ChatSession ties an authenticated key to a temporary Matrix identity.
// Termination is a soft deactivation; rows are hard-deleted only by the
// orphan reconciliation sweep.
type ChatSession struct {
	SessionID      string
	PublicKey      string
	MatrixUserID   string
	Alias          string
	AccessToken    string // empty when the post-creation login failed
	CreatedAt      time.Time
	LastActivityAt time.Time
	IsActive       bool
}

// Store defines persistence for authorized keys and chat sessions.
type Store interface {
	// Authorized keys
	CreateAuthorizedKey(ctx context.Context, key *AuthorizedKey) error
	GetAuthorizedKey(ctx context.Context, publicKey string) (*AuthorizedKey, error)
	ListAuthorizedKeys(ctx context.Context) ([]*AuthorizedKey, error)
	TouchAuthorizedKey(ctx context.Context, publicKey string, usedAt time.Time) error
	RevokeAuthorizedKey(ctx context.Context, publicKey string) error
	// DeleteAuthorizedKey removes the key row and its sessions in one transaction.
	DeleteAuthorizedKey(ctx context.Context, publicKey string) error
	// DeleteExpiredKeys hard-deletes every key with expires_at < now, cascading
	// session deletion, and returns the number of keys removed.
	DeleteExpiredKeys(ctx context.Context, now time.Time) (int, error)

	// Chat sessions
	CreateChatSession(ctx context.Context, session *ChatSession) error
	GetChatSession(ctx context.Context, sessionID string) (*ChatSession, error)
	// GetActiveSessionByKey returns the most recently created active session
	// for the public key.
	GetActiveSessionByKey(ctx context.Context, publicKey string) (*ChatSession, error)
	TouchChatSession(ctx context.Context, sessionID string, activityAt time.Time) error
	DeactivateChatSession(ctx context.Context, sessionID string) error
	DeleteChatSession(ctx context.Context, sessionID string) error
	// ListStaleSessions returns active sessions whose last activity predates cutoff.
	ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*ChatSession, error)
	// ListInactiveSessions returns all sessions with is_active = false.
	ListInactiveSessions(ctx context.Context) ([]*ChatSession, error)
	// LookupActiveSession finds the most recently active session whose alias,
	// public key, or Matrix user ID equals query.
	LookupActiveSession(ctx context.Context, query string) (*ChatSession, error)

	Close() error
}
