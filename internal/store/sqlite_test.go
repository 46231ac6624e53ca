// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers key CRUD, expiry deletion cascade, and session lifecycle queries

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a SQLite store backed by a temp file.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func testKey(pub string, expiresAt time.Time) *AuthorizedKey {
	now := time.Now().UTC().Truncate(time.Second)
	return &AuthorizedKey{
		PublicKey: pub,
		CreatedAt: now,
		ExpiresAt: expiresAt.UTC().Truncate(time.Second),
		IsActive:  true,
	}
}

func testSession(id, pub string) *ChatSession {
	now := time.Now().UTC().Truncate(time.Second)
	return &ChatSession{
		SessionID:      id,
		PublicKey:      pub,
		MatrixUserID:   "@temp_" + id + ":veil.local",
		Alias:          "SilentFox1234",
		AccessToken:    "syt_" + id,
		CreatedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestAuthorizedKey_CreateGet(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	key := testKey("pub-1", time.Now().Add(7*24*time.Hour))
	if err := store.CreateAuthorizedKey(ctx, key); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}

	got, err := store.GetAuthorizedKey(ctx, "pub-1")
	if err != nil {
		t.Fatalf("GetAuthorizedKey failed: %v", err)
	}
	if !got.IsActive {
		t.Error("key should be active")
	}
	if got.LastUsedAt != nil {
		t.Error("LastUsedAt should be nil for a fresh key")
	}
	if !got.ExpiresAt.Equal(key.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, key.ExpiresAt)
	}
}

func TestAuthorizedKey_Duplicate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	key := testKey("pub-1", time.Now().Add(time.Hour))
	if err := store.CreateAuthorizedKey(ctx, key); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}
	if err := store.CreateAuthorizedKey(ctx, key); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("duplicate create error = %v, want ErrDuplicateKey", err)
	}
}

func TestAuthorizedKey_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	if _, err := store.GetAuthorizedKey(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAuthorizedKey error = %v, want ErrNotFound", err)
	}
	if err := store.RevokeAuthorizedKey(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RevokeAuthorizedKey error = %v, want ErrNotFound", err)
	}
	if err := store.TouchAuthorizedKey(ctx, "missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchAuthorizedKey error = %v, want ErrNotFound", err)
	}
}

func TestAuthorizedKey_TouchAndRevoke(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	key := testKey("pub-1", time.Now().Add(time.Hour))
	if err := store.CreateAuthorizedKey(ctx, key); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}

	usedAt := time.Now().UTC().Truncate(time.Second)
	if err := store.TouchAuthorizedKey(ctx, "pub-1", usedAt); err != nil {
		t.Fatalf("TouchAuthorizedKey failed: %v", err)
	}
	if err := store.RevokeAuthorizedKey(ctx, "pub-1"); err != nil {
		t.Fatalf("RevokeAuthorizedKey failed: %v", err)
	}

	got, err := store.GetAuthorizedKey(ctx, "pub-1")
	if err != nil {
		t.Fatalf("GetAuthorizedKey failed: %v", err)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(usedAt) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, usedAt)
	}
	if got.IsActive {
		t.Error("key should be revoked")
	}
}

func TestDeleteExpiredKeys_CascadesAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	// Two expired keys (one with a session), one live key.
	for _, k := range []*AuthorizedKey{
		testKey("expired-1", now.Add(-time.Hour)),
		testKey("expired-2", now.Add(-time.Minute)),
		testKey("live-1", now.Add(time.Hour)),
	} {
		if err := store.CreateAuthorizedKey(ctx, k); err != nil {
			t.Fatalf("CreateAuthorizedKey failed: %v", err)
		}
	}
	if err := store.CreateChatSession(ctx, testSession("sess-1", "expired-1")); err != nil {
		t.Fatalf("CreateChatSession failed: %v", err)
	}

	count, err := store.DeleteExpiredKeys(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredKeys failed: %v", err)
	}
	if count != 2 {
		t.Errorf("deleted = %d, want 2", count)
	}

	// The dependent session is gone too.
	if _, err := store.GetChatSession(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("session of expired key error = %v, want ErrNotFound", err)
	}

	// Live key survives.
	if _, err := store.GetAuthorizedKey(ctx, "live-1"); err != nil {
		t.Errorf("live key should survive: %v", err)
	}

	// Second run is a no-op.
	count, err = store.DeleteExpiredKeys(ctx, now)
	if err != nil {
		t.Fatalf("second DeleteExpiredKeys failed: %v", err)
	}
	if count != 0 {
		t.Errorf("second run deleted = %d, want 0", count)
	}
}

func TestDeleteAuthorizedKey_RemovesSessions(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateAuthorizedKey(ctx, testKey("pub-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}
	if err := store.CreateChatSession(ctx, testSession("sess-1", "pub-1")); err != nil {
		t.Fatalf("CreateChatSession failed: %v", err)
	}

	if err := store.DeleteAuthorizedKey(ctx, "pub-1"); err != nil {
		t.Fatalf("DeleteAuthorizedKey failed: %v", err)
	}
	if _, err := store.GetChatSession(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("session error = %v, want ErrNotFound", err)
	}
}

func TestChatSession_ActiveByKey(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateAuthorizedKey(ctx, testKey("pub-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}

	old := testSession("sess-old", "pub-1")
	old.CreatedAt = old.CreatedAt.Add(-time.Hour)
	old.MatrixUserID = "@temp_old:veil.local"
	newer := testSession("sess-new", "pub-1")

	for _, s := range []*ChatSession{old, newer} {
		if err := store.CreateChatSession(ctx, s); err != nil {
			t.Fatalf("CreateChatSession failed: %v", err)
		}
	}

	got, err := store.GetActiveSessionByKey(ctx, "pub-1")
	if err != nil {
		t.Fatalf("GetActiveSessionByKey failed: %v", err)
	}
	if got.SessionID != "sess-new" {
		t.Errorf("SessionID = %q, want sess-new", got.SessionID)
	}

	// Deactivating the newest falls back to the older one.
	if err := store.DeactivateChatSession(ctx, "sess-new"); err != nil {
		t.Fatalf("DeactivateChatSession failed: %v", err)
	}
	got, err = store.GetActiveSessionByKey(ctx, "pub-1")
	if err != nil {
		t.Fatalf("GetActiveSessionByKey failed: %v", err)
	}
	if got.SessionID != "sess-old" {
		t.Errorf("SessionID = %q, want sess-old", got.SessionID)
	}
}

func TestChatSession_StaleAndInactiveLists(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := store.CreateAuthorizedKey(ctx, testKey("pub-1", now.Add(time.Hour))); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}

	stale := testSession("sess-stale", "pub-1")
	stale.MatrixUserID = "@temp_stale:veil.local"
	stale.LastActivityAt = now.Add(-2 * time.Hour)

	fresh := testSession("sess-fresh", "pub-1")
	fresh.MatrixUserID = "@temp_fresh:veil.local"

	ended := testSession("sess-ended", "pub-1")
	ended.MatrixUserID = "@temp_ended:veil.local"
	ended.IsActive = false

	for _, s := range []*ChatSession{stale, fresh, ended} {
		if err := store.CreateChatSession(ctx, s); err != nil {
			t.Fatalf("CreateChatSession failed: %v", err)
		}
	}

	staleList, err := store.ListStaleSessions(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStaleSessions failed: %v", err)
	}
	if len(staleList) != 1 || staleList[0].SessionID != "sess-stale" {
		t.Errorf("stale sessions = %+v, want only sess-stale", staleList)
	}

	inactiveList, err := store.ListInactiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListInactiveSessions failed: %v", err)
	}
	if len(inactiveList) != 1 || inactiveList[0].SessionID != "sess-ended" {
		t.Errorf("inactive sessions = %+v, want only sess-ended", inactiveList)
	}
}

func TestChatSession_Lookup(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateAuthorizedKey(ctx, testKey("pub-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}
	sess := testSession("sess-1", "pub-1")
	sess.Alias = "HiddenRaven4242"
	if err := store.CreateChatSession(ctx, sess); err != nil {
		t.Fatalf("CreateChatSession failed: %v", err)
	}

	for _, query := range []string{"HiddenRaven4242", "pub-1", sess.MatrixUserID} {
		got, err := store.LookupActiveSession(ctx, query)
		if err != nil {
			t.Fatalf("LookupActiveSession(%q) failed: %v", query, err)
		}
		if got.SessionID != "sess-1" {
			t.Errorf("LookupActiveSession(%q) = %q, want sess-1", query, got.SessionID)
		}
	}

	if _, err := store.LookupActiveSession(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupActiveSession(nobody) error = %v, want ErrNotFound", err)
	}

	// Inactive sessions are invisible to lookup.
	if err := store.DeactivateChatSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeactivateChatSession failed: %v", err)
	}
	if _, err := store.LookupActiveSession(ctx, "HiddenRaven4242"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup of deactivated session error = %v, want ErrNotFound", err)
	}
}

func TestChatSession_TouchAndDelete(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateAuthorizedKey(ctx, testKey("pub-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}
	if err := store.CreateChatSession(ctx, testSession("sess-1", "pub-1")); err != nil {
		t.Fatalf("CreateChatSession failed: %v", err)
	}

	bumped := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	if err := store.TouchChatSession(ctx, "sess-1", bumped); err != nil {
		t.Fatalf("TouchChatSession failed: %v", err)
	}

	got, err := store.GetChatSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if !got.LastActivityAt.Equal(bumped) {
		t.Errorf("LastActivityAt = %v, want %v", got.LastActivityAt, bumped)
	}

	if err := store.DeleteChatSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteChatSession failed: %v", err)
	}
	if err := store.DeleteChatSession(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestChatSession_NullAccessToken(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateAuthorizedKey(ctx, testKey("pub-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}
	sess := testSession("sess-1", "pub-1")
	sess.AccessToken = ""
	if err := store.CreateChatSession(ctx, sess); err != nil {
		t.Fatalf("CreateChatSession failed: %v", err)
	}

	got, err := store.GetChatSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if got.AccessToken != "" {
		t.Errorf("AccessToken = %q, want empty", got.AccessToken)
	}
}
