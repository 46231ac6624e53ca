// ABOUTME: Session lifecycle manager binding keys to temporary identities
// ABOUTME: Start reuses healthy sessions, End deactivates and releases the identity

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/veil-gateway/internal/alias"
	"github.com/veilchat/veil-gateway/internal/store"
	"github.com/veilchat/veil-gateway/internal/synapse"
)

// ErrNoActiveSession is returned when the caller has no active session, or
// names a session that is not theirs. The two cases are deliberately
// indistinguishable.
var ErrNoActiveSession = errors.New("no active session")

// ErrProvisioningFailed is returned when the identity system rejected the
// account creation. No session row exists after this error.
var ErrProvisioningFailed = errors.New("identity provisioning failed")

// Descriptor is the client-facing view of a session.
type Descriptor struct {
	SessionID      string    `json:"session_id"`
	MatrixUserID   string    `json:"matrix_user_id"`
	Alias          string    `json:"alias"`
	AccessToken    string    `json:"access_token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Reused         bool      `json:"reused"`
	// Degraded marks a session whose post-provisioning login failed: it has
	// an identity but no access token. Retrying Start replaces it.
	Degraded bool `json:"degraded,omitempty"`
}

// Peer is the limited view returned by directory lookups. It never includes
// the access token or timestamps.
type Peer struct {
	MatrixUserID string `json:"matrix_user_id"`
	Alias        string `json:"alias"`
}

// Manager owns session lifecycle. Operations on the same public key are
// serialized with a per-key lock so concurrent starts cannot provision two
// identities for one key.
type Manager struct {
	store  store.Store
	prov   synapse.Provisioner
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(st store.Store, prov synapse.Provisioner, logger *slog.Logger) *Manager {
	return &Manager{
		store:  st,
		prov:   prov,
		logger: logger.With("component", "session"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex for a public key, creating it on first use.
// Locks are never removed; the authorized key population is small and
// bounded by the keygen CLI.
func (m *Manager) keyLock(publicKey string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[publicKey]
	if !ok {
		l = &sync.Mutex{}
		m.locks[publicKey] = l
	}
	return l
}

// Start returns the caller's session, creating one if needed.
//
// An existing active session with an access token is reused as-is. An
// existing session without a token is a leftover from a degraded start: it
// gets deactivated and replaced, and the orphan sweep reclaims its identity.
func (m *Manager) Start(ctx context.Context, publicKey string) (*Descriptor, error) {
	lock := m.keyLock(publicKey)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.GetActiveSessionByKey(ctx, publicKey)
	switch {
	case err == nil && existing.AccessToken != "":
		now := m.now().UTC()
		if err := m.store.TouchChatSession(ctx, existing.SessionID, now); err != nil {
			return nil, fmt.Errorf("touching session: %w", err)
		}
		m.logger.Debug("reusing existing session", "session_id", existing.SessionID)
		d := descriptorFor(existing)
		d.LastActivityAt = now
		d.Reused = true
		return d, nil

	case err == nil:
		// Credential-less session from a degraded start. Retire it and
		// provision fresh.
		m.logger.Warn("replacing credential-less session", "session_id", existing.SessionID)
		if err := m.store.DeactivateChatSession(ctx, existing.SessionID); err != nil {
			return nil, fmt.Errorf("deactivating degraded session: %w", err)
		}

	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	return m.create(ctx, publicKey)
}

func (m *Manager) create(ctx context.Context, publicKey string) (*Descriptor, error) {
	sessionID := uuid.NewString()
	sessionAlias := alias.Generate(publicKey, sessionID)

	ident, err := m.prov.CreateIdentity(ctx, synapse.Seed{
		PublicKey:   publicKey,
		SessionID:   sessionID,
		DisplayName: sessionAlias,
	})
	if err != nil {
		m.logger.Error("identity provisioning failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	// A login failure is not fatal: the session exists, the client just has
	// no messaging credential. Start can be retried to replace it.
	accessToken, err := m.prov.Authenticate(ctx, ident.UserID, ident.Password)
	if err != nil {
		m.logger.Warn("identity login failed, session degraded",
			"session_id", sessionID, "matrix_user_id", ident.UserID, "error", err)
		accessToken = ""
	}

	now := m.now().UTC()
	sess := &store.ChatSession{
		SessionID:      sessionID,
		PublicKey:      publicKey,
		MatrixUserID:   ident.UserID,
		Alias:          sessionAlias,
		AccessToken:    accessToken,
		CreatedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	}
	if err := m.store.CreateChatSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	m.logger.Info("session started",
		"session_id", sessionID, "matrix_user_id", ident.UserID, "alias", sessionAlias)
	return descriptorFor(sess), nil
}

// Info returns the caller's active session and refreshes its activity stamp.
func (m *Manager) Info(ctx context.Context, publicKey string) (*Descriptor, error) {
	sess, err := m.store.GetActiveSessionByKey(ctx, publicKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	now := m.now().UTC()
	if err := m.store.TouchChatSession(ctx, sess.SessionID, now); err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}

	d := descriptorFor(sess)
	d.LastActivityAt = now
	return d, nil
}

// End terminates the named session if it belongs to the caller and is still
// active. Identity release is best-effort: the local deactivation proceeds
// even when the remote delete fails, and the orphan sweep finishes the job.
func (m *Manager) End(ctx context.Context, publicKey, sessionID string) error {
	lock := m.keyLock(publicKey)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.GetChatSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoActiveSession
		}
		return fmt.Errorf("looking up session: %w", err)
	}
	if sess.PublicKey != publicKey || !sess.IsActive {
		return ErrNoActiveSession
	}

	if err := m.prov.DeleteIdentity(ctx, sess.MatrixUserID); err != nil {
		m.logger.Warn("identity release failed, deferring to orphan sweep",
			"session_id", sessionID, "matrix_user_id", sess.MatrixUserID, "error", err)
	}

	if err := m.store.DeactivateChatSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}

	m.logger.Info("session ended", "session_id", sessionID, "matrix_user_id", sess.MatrixUserID)
	return nil
}

// Lookup resolves an alias, public key, or Matrix user ID to the peer's
// contact details. Inactive sessions are invisible.
func (m *Manager) Lookup(ctx context.Context, query string) (*Peer, error) {
	sess, err := m.store.LookupActiveSession(ctx, query)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("looking up peer: %w", err)
	}
	return &Peer{MatrixUserID: sess.MatrixUserID, Alias: sess.Alias}, nil
}

func descriptorFor(sess *store.ChatSession) *Descriptor {
	return &Descriptor{
		SessionID:      sess.SessionID,
		MatrixUserID:   sess.MatrixUserID,
		Alias:          sess.Alias,
		AccessToken:    sess.AccessToken,
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
		Degraded:       sess.AccessToken == "",
	}
}
