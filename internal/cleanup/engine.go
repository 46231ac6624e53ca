// ABOUTME: Scheduled cleanup engine with three idempotent reconciliation sweeps
// ABOUTME: Expires keys, deactivates idle sessions, and reclaims orphaned identities

package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/veilchat/veil-gateway/internal/challenge"
	"github.com/veilchat/veil-gateway/internal/store"
	"github.com/veilchat/veil-gateway/internal/synapse"
)

// Intervals configures the sweep schedule and the idle cutoff.
type Intervals struct {
	ExpiredKeys      time.Duration // between expired-key sweeps
	InactiveSessions time.Duration // between idle-session sweeps
	Orphans          time.Duration // between orphan reconciliation sweeps
	SessionIdle      time.Duration // inactivity window before a session is stale
}

// DefaultIntervals matches the production schedule: keys hourly, idle
// sessions every half hour, orphans daily, with a one-hour idle window.
func DefaultIntervals() Intervals {
	return Intervals{
		ExpiredKeys:      time.Hour,
		InactiveSessions: 30 * time.Minute,
		Orphans:          24 * time.Hour,
		SessionIdle:      time.Hour,
	}
}

// Counts aggregates the results of a full cleanup pass.
type Counts struct {
	ExpiredKeys         int `json:"expired_keys"`
	DeactivatedSessions int `json:"deactivated_sessions"`
	ReclaimedIdentities int `json:"reclaimed_identities"`
	SweptChallenges     int `json:"swept_challenges"`
}

// Engine runs the reconciliation sweeps. Every sweep is idempotent and safe
// to run concurrently with live traffic; the engine itself runs them
// sequentially from a single goroutine.
type Engine struct {
	store      store.Store
	prov       synapse.Provisioner
	challenges *challenge.Cache
	intervals  Intervals
	logger     *slog.Logger
	now        func() time.Time
}

func NewEngine(st store.Store, prov synapse.Provisioner, challenges *challenge.Cache, intervals Intervals, logger *slog.Logger) *Engine {
	return &Engine{
		store:      st,
		prov:       prov,
		challenges: challenges,
		intervals:  intervals,
		logger:     logger.With("component", "cleanup"),
		now:        time.Now,
	}
}

// CleanupExpiredKeys hard-deletes every authorized key past its expiry. Key
// deletion cascades to the key's session rows in storage.
func (e *Engine) CleanupExpiredKeys(ctx context.Context) (int, error) {
	removed, err := e.store.DeleteExpiredKeys(ctx, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.Info("expired keys removed", "count", removed)
	}
	return removed, nil
}

// CleanupInactiveSessions deactivates sessions idle past the configured
// window. A session is only flipped inactive after its remote identity is
// released; if the release fails the session stays active and is retried on
// the next sweep, so a live remote identity always has a live local record.
func (e *Engine) CleanupInactiveSessions(ctx context.Context) (int, error) {
	cutoff := e.now().UTC().Add(-e.intervals.SessionIdle)
	stale, err := e.store.ListStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deactivated := 0
	for _, sess := range stale {
		if err := e.prov.DeleteIdentity(ctx, sess.MatrixUserID); err != nil {
			e.logger.Warn("identity release failed, session kept active",
				"session_id", sess.SessionID, "matrix_user_id", sess.MatrixUserID, "error", err)
			continue
		}
		if err := e.store.DeactivateChatSession(ctx, sess.SessionID); err != nil {
			e.logger.Error("deactivating stale session failed",
				"session_id", sess.SessionID, "error", err)
			continue
		}
		deactivated++
	}

	if deactivated > 0 {
		e.logger.Info("stale sessions deactivated", "count", deactivated, "examined", len(stale))
	}
	return deactivated, nil
}

// CleanupOrphanedIdentities reconciles inactive sessions against the
// identity system and removes their rows. This is the only path that
// hard-deletes session rows, so inactive history is bounded by the sweep
// interval.
func (e *Engine) CleanupOrphanedIdentities(ctx context.Context) (int, error) {
	inactive, err := e.store.ListInactiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, sess := range inactive {
		status, err := e.prov.GetIdentityStatus(ctx, sess.MatrixUserID)
		switch {
		case errors.Is(err, synapse.ErrIdentityNotFound):
			// Already gone remotely; nothing to release.
		case err != nil:
			e.logger.Warn("identity status check failed",
				"session_id", sess.SessionID, "matrix_user_id", sess.MatrixUserID, "error", err)
		case !status.Deactivated:
			if err := e.prov.DeleteIdentity(ctx, sess.MatrixUserID); err != nil {
				e.logger.Warn("orphan identity release failed",
					"session_id", sess.SessionID, "matrix_user_id", sess.MatrixUserID, "error", err)
			}
		}

		// The local row goes regardless of the remote outcome.
		if err := e.store.DeleteChatSession(ctx, sess.SessionID); err != nil {
			e.logger.Error("deleting inactive session failed",
				"session_id", sess.SessionID, "error", err)
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		e.logger.Info("orphaned sessions reclaimed", "count", reclaimed)
	}
	return reclaimed, nil
}

// RunFullCleanup executes all sweeps in dependency order: expired keys first
// (their deletion cascades sessions), idle deactivation second, orphan
// reclamation last. A failing sweep is logged and the rest still run.
func (e *Engine) RunFullCleanup(ctx context.Context) Counts {
	var counts Counts
	var err error

	if counts.ExpiredKeys, err = e.CleanupExpiredKeys(ctx); err != nil {
		e.logger.Error("expired-key sweep failed", "error", err)
	}
	if counts.DeactivatedSessions, err = e.CleanupInactiveSessions(ctx); err != nil {
		e.logger.Error("idle-session sweep failed", "error", err)
	}
	if counts.ReclaimedIdentities, err = e.CleanupOrphanedIdentities(ctx); err != nil {
		e.logger.Error("orphan sweep failed", "error", err)
	}
	counts.SweptChallenges = e.challenges.Sweep(e.now().UTC())

	return counts
}

// Run drives the sweeps on their configured intervals until ctx is
// cancelled. Intended to run in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	keyTicker := time.NewTicker(e.intervals.ExpiredKeys)
	sessionTicker := time.NewTicker(e.intervals.InactiveSessions)
	orphanTicker := time.NewTicker(e.intervals.Orphans)
	defer keyTicker.Stop()
	defer sessionTicker.Stop()
	defer orphanTicker.Stop()

	e.logger.Info("cleanup engine started",
		"expired_keys_every", e.intervals.ExpiredKeys,
		"inactive_sessions_every", e.intervals.InactiveSessions,
		"orphans_every", e.intervals.Orphans,
		"session_idle", e.intervals.SessionIdle)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("cleanup engine stopped")
			return
		case <-keyTicker.C:
			if _, err := e.CleanupExpiredKeys(ctx); err != nil {
				e.logger.Error("expired-key sweep failed", "error", err)
			}
			e.challenges.Sweep(e.now().UTC())
		case <-sessionTicker.C:
			if _, err := e.CleanupInactiveSessions(ctx); err != nil {
				e.logger.Error("idle-session sweep failed", "error", err)
			}
		case <-orphanTicker.C:
			if _, err := e.CleanupOrphanedIdentities(ctx); err != nil {
				e.logger.Error("orphan sweep failed", "error", err)
			}
		}
	}
}
