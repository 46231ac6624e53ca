// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides authorized-key/session persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS authorized_keys (
			public_key   TEXT PRIMARY KEY,
			created_at   TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			is_active    INTEGER NOT NULL DEFAULT 1,
			last_used_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_authorized_keys_expires
			ON authorized_keys(expires_at);

		CREATE TABLE IF NOT EXISTS chat_sessions (
			session_id       TEXT PRIMARY KEY,
			public_key       TEXT NOT NULL REFERENCES authorized_keys(public_key) ON DELETE CASCADE,
			matrix_user_id   TEXT NOT NULL UNIQUE,
			alias            TEXT NOT NULL,
			access_token     TEXT,
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,
			is_active        INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_chat_sessions_key
			ON chat_sessions(public_key);

		CREATE INDEX IF NOT EXISTS idx_chat_sessions_active_activity
			ON chat_sessions(is_active, last_activity_at);

		CREATE INDEX IF NOT EXISTS idx_chat_sessions_alias
			ON chat_sessions(alias);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateAuthorizedKey registers a new public key.
func (s *SQLiteStore) CreateAuthorizedKey(ctx context.Context, key *AuthorizedKey) error {
	query := `
		INSERT INTO authorized_keys (public_key, created_at, expires_at, is_active, last_used_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		key.PublicKey,
		key.CreatedAt.UTC().Format(time.RFC3339),
		key.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(key.IsActive),
		nullableTime(key.LastUsedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting authorized key: %w", err)
	}
	return nil
}

// GetAuthorizedKey retrieves a key by its public key.
func (s *SQLiteStore) GetAuthorizedKey(ctx context.Context, publicKey string) (*AuthorizedKey, error) {
	query := `
		SELECT public_key, created_at, expires_at, is_active, last_used_at
		FROM authorized_keys
		WHERE public_key = ?
	`

	return scanAuthorizedKey(s.db.QueryRowContext(ctx, query, publicKey))
}

// ListAuthorizedKeys returns all registered keys, newest first.
func (s *SQLiteStore) ListAuthorizedKeys(ctx context.Context) ([]*AuthorizedKey, error) {
	query := `
		SELECT public_key, created_at, expires_at, is_active, last_used_at
		FROM authorized_keys
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing authorized keys: %w", err)
	}
	defer rows.Close()

	var keys []*AuthorizedKey
	for rows.Next() {
		key, err := scanAuthorizedKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TouchAuthorizedKey updates last_used_at after a successful verification.
func (s *SQLiteStore) TouchAuthorizedKey(ctx context.Context, publicKey string, usedAt time.Time) error {
	query := `UPDATE authorized_keys SET last_used_at = ? WHERE public_key = ?`

	res, err := s.db.ExecContext(ctx, query, usedAt.UTC().Format(time.RFC3339), publicKey)
	if err != nil {
		return fmt.Errorf("touching authorized key: %w", err)
	}
	return requireRow(res)
}

// RevokeAuthorizedKey flips is_active to false without removing the row.
func (s *SQLiteStore) RevokeAuthorizedKey(ctx context.Context, publicKey string) error {
	query := `UPDATE authorized_keys SET is_active = 0 WHERE public_key = ?`

	res, err := s.db.ExecContext(ctx, query, publicKey)
	if err != nil {
		return fmt.Errorf("revoking authorized key: %w", err)
	}
	return requireRow(res)
}

// DeleteAuthorizedKey removes the key and any sessions referencing it in a
// single transaction.
func (s *SQLiteStore) DeleteAuthorizedKey(ctx context.Context, publicKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE public_key = ?`, publicKey); err != nil {
		return fmt.Errorf("deleting sessions for key: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM authorized_keys WHERE public_key = ?`, publicKey)
	if err != nil {
		return fmt.Errorf("deleting authorized key: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteExpiredKeys hard-deletes all keys past their expiry, cascading
// session deletion, and returns the number of keys removed.
func (s *SQLiteStore) DeleteExpiredKeys(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chat_sessions
		WHERE public_key IN (SELECT public_key FROM authorized_keys WHERE expires_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("deleting sessions of expired keys: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM authorized_keys WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired keys: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing expired-key deletion: %w", err)
	}
	return int(n), nil
}

// CreateChatSession stores a new session.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, session *ChatSession) error {
	query := `
		INSERT INTO chat_sessions
			(session_id, public_key, matrix_user_id, alias, access_token, created_at, last_activity_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID,
		session.PublicKey,
		session.MatrixUserID,
		session.Alias,
		nullableString(session.AccessToken),
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.LastActivityAt.UTC().Format(time.RFC3339),
		boolToInt(session.IsActive),
	)
	if err != nil {
		return fmt.Errorf("inserting chat session: %w", err)
	}
	return nil
}

// GetChatSession retrieves a session by ID.
func (s *SQLiteStore) GetChatSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	query := sessionSelect + ` WHERE session_id = ?`
	return scanChatSession(s.db.QueryRowContext(ctx, query, sessionID))
}

// GetActiveSessionByKey returns the most recently created active session for
// the public key.
func (s *SQLiteStore) GetActiveSessionByKey(ctx context.Context, publicKey string) (*ChatSession, error) {
	query := sessionSelect + `
		WHERE public_key = ? AND is_active = 1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanChatSession(s.db.QueryRowContext(ctx, query, publicKey))
}

// TouchChatSession bumps last_activity_at.
func (s *SQLiteStore) TouchChatSession(ctx context.Context, sessionID string, activityAt time.Time) error {
	query := `UPDATE chat_sessions SET last_activity_at = ? WHERE session_id = ?`

	res, err := s.db.ExecContext(ctx, query, activityAt.UTC().Format(time.RFC3339), sessionID)
	if err != nil {
		return fmt.Errorf("touching chat session: %w", err)
	}
	return requireRow(res)
}

// DeactivateChatSession flips is_active to false.
func (s *SQLiteStore) DeactivateChatSession(ctx context.Context, sessionID string) error {
	query := `UPDATE chat_sessions SET is_active = 0 WHERE session_id = ?`

	res, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("deactivating chat session: %w", err)
	}
	return requireRow(res)
}

// DeleteChatSession hard-deletes a session row.
func (s *SQLiteStore) DeleteChatSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting chat session: %w", err)
	}
	return requireRow(res)
}

// ListStaleSessions returns active sessions whose last activity predates cutoff.
func (s *SQLiteStore) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*ChatSession, error) {
	query := sessionSelect + `
		WHERE is_active = 1 AND last_activity_at < ?
		ORDER BY last_activity_at ASC
	`
	return s.querySessions(ctx, query, cutoff.UTC().Format(time.RFC3339))
}

// ListInactiveSessions returns all deactivated sessions.
func (s *SQLiteStore) ListInactiveSessions(ctx context.Context) ([]*ChatSession, error) {
	query := sessionSelect + `
		WHERE is_active = 0
		ORDER BY last_activity_at ASC
	`
	return s.querySessions(ctx, query)
}

// LookupActiveSession finds the most recently active session whose alias,
// public key, or Matrix user ID equals query.
func (s *SQLiteStore) LookupActiveSession(ctx context.Context, q string) (*ChatSession, error) {
	query := sessionSelect + `
		WHERE is_active = 1 AND (alias = ? OR public_key = ? OR matrix_user_id = ?)
		ORDER BY last_activity_at DESC
		LIMIT 1
	`
	return scanChatSession(s.db.QueryRowContext(ctx, query, q, q, q))
}

const sessionSelect = `
	SELECT session_id, public_key, matrix_user_id, alias, access_token,
	       created_at, last_activity_at, is_active
	FROM chat_sessions`

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ChatSession
	for rows.Next() {
		sess, err := scanChatSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAuthorizedKey(row scanner) (*AuthorizedKey, error) {
	var (
		key       AuthorizedKey
		createdAt string
		expiresAt string
		isActive  int
		lastUsed  sql.NullString
	)

	err := row.Scan(&key.PublicKey, &createdAt, &expiresAt, &isActive, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning authorized key: %w", err)
	}

	if key.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if key.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	key.IsActive = isActive != 0

	if lastUsed.Valid {
		t, err := time.Parse(time.RFC3339, lastUsed.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		key.LastUsedAt = &t
	}
	return &key, nil
}

func scanChatSession(row scanner) (*ChatSession, error) {
	var (
		sess         ChatSession
		accessToken  sql.NullString
		createdAt    string
		lastActivity string
		isActive     int
	)

	err := row.Scan(&sess.SessionID, &sess.PublicKey, &sess.MatrixUserID,
		&sess.Alias, &accessToken, &createdAt, &lastActivity, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning chat session: %w", err)
	}

	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.LastActivityAt, err = time.Parse(time.RFC3339, lastActivity); err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	sess.AccessToken = accessToken.String
	sess.IsActive = isActive != 0
	return &sess, nil
}

// requireRow converts a zero-rows-affected update/delete into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueConstraintError checks whether err is a SQLite unique constraint
// violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
