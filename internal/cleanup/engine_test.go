// ABOUTME: Tests for the cleanup engine's three reconciliation sweeps
// ABOUTME: Uses a fake clock and failure injection on the mock provisioner

package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/veilchat/veil-gateway/internal/challenge"
	"github.com/veilchat/veil-gateway/internal/store"
	"github.com/veilchat/veil-gateway/internal/synapse"
)

func newTestEngine(t *testing.T) (*Engine, *store.MockStore, *synapse.MockProvisioner) {
	t.Helper()

	st := store.NewMockStore()
	prov := synapse.NewMockProvisioner()
	cache := challenge.New(challenge.DefaultTTL)
	t.Cleanup(cache.Close)

	e := NewEngine(st, prov, cache, DefaultIntervals(), slog.Default())
	return e, st, prov
}

func addKey(t *testing.T, st *store.MockStore, pub string, expiresAt time.Time) {
	t.Helper()
	err := st.CreateAuthorizedKey(context.Background(), &store.AuthorizedKey{
		PublicKey: pub,
		CreatedAt: expiresAt.Add(-7 * 24 * time.Hour),
		ExpiresAt: expiresAt,
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("CreateAuthorizedKey failed: %v", err)
	}
}

func addSession(t *testing.T, st *store.MockStore, sess *store.ChatSession) {
	t.Helper()
	if err := st.CreateChatSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateChatSession failed: %v", err)
	}
}

func TestCleanupExpiredKeys(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	addKey(t, st, "live-key", now.Add(24*time.Hour))
	addKey(t, st, "dead-key", now.Add(-time.Hour))
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-dead",
		PublicKey:      "dead-key",
		MatrixUserID:   "@temp_dead:veil.test",
		Alias:          "SilentFox0001",
		CreatedAt:      now.Add(-2 * time.Hour),
		LastActivityAt: now.Add(-2 * time.Hour),
		IsActive:       true,
	})

	removed, err := e.CleanupExpiredKeys(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredKeys failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := st.GetAuthorizedKey(ctx, "dead-key"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired key still present, err = %v", err)
	}
	if _, err := st.GetAuthorizedKey(ctx, "live-key"); err != nil {
		t.Errorf("live key gone: %v", err)
	}
	// Key deletion cascades the key's sessions.
	if _, err := st.GetChatSession(ctx, "sess-dead"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cascaded session still present, err = %v", err)
	}

	// Idempotent: a second run removes nothing.
	removed, err = e.CleanupExpiredKeys(ctx)
	if err != nil {
		t.Fatalf("second CleanupExpiredKeys failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("second run removed = %d, want 0", removed)
	}
}

func TestCleanupInactiveSessions(t *testing.T) {
	e, st, prov := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	addKey(t, st, "key-1", now.Add(24*time.Hour))
	prov.SeedIdentity("@temp_stale:veil.test", "pw")
	prov.SeedIdentity("@temp_fresh:veil.test", "pw")

	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-stale",
		PublicKey:      "key-1",
		MatrixUserID:   "@temp_stale:veil.test",
		Alias:          "SwiftWolf0002",
		CreatedAt:      now.Add(-3 * time.Hour),
		LastActivityAt: now.Add(-2 * time.Hour),
		IsActive:       true,
	})
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-fresh",
		PublicKey:      "key-1",
		MatrixUserID:   "@temp_fresh:veil.test",
		Alias:          "DarkEagle0003",
		CreatedAt:      now.Add(-10 * time.Minute),
		LastActivityAt: now.Add(-5 * time.Minute),
		IsActive:       true,
	})

	deactivated, err := e.CleanupInactiveSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupInactiveSessions failed: %v", err)
	}
	if deactivated != 1 {
		t.Errorf("deactivated = %d, want 1", deactivated)
	}

	stale, err := st.GetChatSession(ctx, "sess-stale")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if stale.IsActive {
		t.Error("stale session still active")
	}
	if prov.Exists("@temp_stale:veil.test") {
		t.Error("stale identity not released")
	}

	fresh, err := st.GetChatSession(ctx, "sess-fresh")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if !fresh.IsActive {
		t.Error("fresh session was deactivated")
	}
}

func TestCleanupInactiveSessions_RemoteFailureKeepsSessionActive(t *testing.T) {
	e, st, prov := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	addKey(t, st, "key-1", now.Add(24*time.Hour))
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-stale",
		PublicKey:      "key-1",
		MatrixUserID:   "@temp_stale:veil.test",
		Alias:          "SwiftWolf0002",
		CreatedAt:      now.Add(-3 * time.Hour),
		LastActivityAt: now.Add(-2 * time.Hour),
		IsActive:       true,
	})

	prov.DeleteErr = errors.New("homeserver down")
	deactivated, err := e.CleanupInactiveSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupInactiveSessions failed: %v", err)
	}
	if deactivated != 0 {
		t.Errorf("deactivated = %d, want 0", deactivated)
	}

	sess, err := st.GetChatSession(ctx, "sess-stale")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if !sess.IsActive {
		t.Error("session deactivated despite remote failure")
	}

	// Next sweep succeeds once the homeserver is back.
	prov.DeleteErr = nil
	prov.SeedIdentity("@temp_stale:veil.test", "pw")
	if deactivated, err = e.CleanupInactiveSessions(ctx); err != nil || deactivated != 1 {
		t.Fatalf("retry sweep = (%d, %v), want (1, nil)", deactivated, err)
	}
}

func TestCleanupOrphanedIdentities(t *testing.T) {
	e, st, prov := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	addKey(t, st, "key-1", now.Add(24*time.Hour))

	// Orphan whose identity still exists remotely.
	prov.SeedIdentity("@temp_lingering:veil.test", "pw")
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-lingering",
		PublicKey:      "key-1",
		MatrixUserID:   "@temp_lingering:veil.test",
		Alias:          "HiddenOwl0004",
		CreatedAt:      now.Add(-48 * time.Hour),
		LastActivityAt: now.Add(-48 * time.Hour),
		IsActive:       false,
	})
	// Orphan whose identity is already gone remotely.
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-gone",
		PublicKey:      "key-1",
		MatrixUserID:   "@temp_gone:veil.test",
		Alias:          "QuickLynx0005",
		CreatedAt:      now.Add(-48 * time.Hour),
		LastActivityAt: now.Add(-48 * time.Hour),
		IsActive:       false,
	})
	// Active session is untouched.
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-active",
		PublicKey:      "key-1",
		MatrixUserID:   "@temp_active:veil.test",
		Alias:          "CalmBear0006",
		CreatedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	})

	reclaimed, err := e.CleanupOrphanedIdentities(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphanedIdentities failed: %v", err)
	}
	if reclaimed != 2 {
		t.Errorf("reclaimed = %d, want 2", reclaimed)
	}

	if prov.Exists("@temp_lingering:veil.test") {
		t.Error("lingering identity not released")
	}
	for _, id := range []string{"sess-lingering", "sess-gone"} {
		if _, err := st.GetChatSession(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("orphan row %s still present, err = %v", id, err)
		}
	}
	if _, err := st.GetChatSession(ctx, "sess-active"); err != nil {
		t.Errorf("active session removed: %v", err)
	}
}

func TestCleanupOrphanedIdentities_DeletesRowDespiteRemoteFailure(t *testing.T) {
	e, st, prov := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	addKey(t, st, "key-1", now.Add(24*time.Hour))
	prov.SeedIdentity("@temp_stuck:veil.test", "pw")
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-stuck",
		PublicKey:      "key-1",
		MatrixUserID:   "@temp_stuck:veil.test",
		Alias:          "WildHawk0007",
		CreatedAt:      now.Add(-48 * time.Hour),
		LastActivityAt: now.Add(-48 * time.Hour),
		IsActive:       false,
	})

	prov.DeleteErr = errors.New("homeserver down")
	reclaimed, err := e.CleanupOrphanedIdentities(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphanedIdentities failed: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("reclaimed = %d, want 1", reclaimed)
	}
	if _, err := st.GetChatSession(ctx, "sess-stuck"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("row kept despite reclaim, err = %v", err)
	}
}

func TestRunFullCleanup(t *testing.T) {
	e, st, prov := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	addKey(t, st, "expired-key", now.Add(-time.Hour))
	addKey(t, st, "live-key", now.Add(24*time.Hour))

	prov.SeedIdentity("@temp_stale:veil.test", "pw")
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-stale",
		PublicKey:      "live-key",
		MatrixUserID:   "@temp_stale:veil.test",
		Alias:          "NobleRaven0008",
		CreatedAt:      now.Add(-3 * time.Hour),
		LastActivityAt: now.Add(-2 * time.Hour),
		IsActive:       true,
	})
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-orphan",
		PublicKey:      "live-key",
		MatrixUserID:   "@temp_orphan:veil.test",
		Alias:          "BoldTiger0009",
		CreatedAt:      now.Add(-48 * time.Hour),
		LastActivityAt: now.Add(-48 * time.Hour),
		IsActive:       false,
	})

	counts := e.RunFullCleanup(ctx)

	if counts.ExpiredKeys != 1 {
		t.Errorf("ExpiredKeys = %d, want 1", counts.ExpiredKeys)
	}
	if counts.DeactivatedSessions != 1 {
		t.Errorf("DeactivatedSessions = %d, want 1", counts.DeactivatedSessions)
	}
	// The stale session was deactivated in this same pass, so the orphan
	// sweep reclaims it along with the pre-existing orphan.
	if counts.ReclaimedIdentities != 2 {
		t.Errorf("ReclaimedIdentities = %d, want 2", counts.ReclaimedIdentities)
	}

	if _, err := st.GetAuthorizedKey(ctx, "expired-key"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired key still present, err = %v", err)
	}
}

func TestRunFullCleanup_SweepIsolation(t *testing.T) {
	e, st, prov := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	addKey(t, st, "expired-key", now.Add(-time.Hour))
	addKey(t, st, "live-key", now.Add(24*time.Hour))
	addSession(t, st, &store.ChatSession{
		SessionID:      "sess-stale",
		PublicKey:      "live-key",
		MatrixUserID:   "@temp_stale:veil.test",
		Alias:          "ShyOtter0010",
		CreatedAt:      now.Add(-3 * time.Hour),
		LastActivityAt: now.Add(-2 * time.Hour),
		IsActive:       true,
	})

	// The idle-session sweep cannot release identities, but the key sweep
	// still runs and completes.
	prov.DeleteErr = errors.New("homeserver down")
	counts := e.RunFullCleanup(ctx)

	if counts.ExpiredKeys != 1 {
		t.Errorf("ExpiredKeys = %d, want 1", counts.ExpiredKeys)
	}
	if counts.DeactivatedSessions != 0 {
		t.Errorf("DeactivatedSessions = %d, want 0", counts.DeactivatedSessions)
	}
}
