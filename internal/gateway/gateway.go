// ABOUTME: Gateway orchestrator that wires store, auth, sessions, and cleanup
// ABOUTME: Manages the HTTP server and background sweep lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/veilchat/veil-gateway/internal/auth"
	"github.com/veilchat/veil-gateway/internal/challenge"
	"github.com/veilchat/veil-gateway/internal/cleanup"
	"github.com/veilchat/veil-gateway/internal/config"
	"github.com/veilchat/veil-gateway/internal/session"
	"github.com/veilchat/veil-gateway/internal/store"
	"github.com/veilchat/veil-gateway/internal/synapse"
)

// Gateway orchestrates the veil-gateway server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	challenges    *challenge.Cache
	authenticator *auth.Authenticator
	sessions      *session.Manager
	cleaner       *cleanup.Engine
	httpServer    *http.Server
	logger        *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("VEIL_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from configuration, connecting to the real store and
// homeserver.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	prov, err := synapse.NewClient(cfg.Synapse.BaseURL, cfg.Synapse.ServerName, cfg.Synapse.AdminToken, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating synapse client: %w", err)
	}

	return build(cfg, s, prov, logger), nil
}

// build assembles a Gateway from its collaborators. Split from New so tests
// can inject the mock store and provisioner.
func build(cfg *config.Config, s store.Store, prov synapse.Provisioner, logger *slog.Logger) *Gateway {
	challenges := challenge.New(cfg.Auth.ChallengeTTL)
	issuer := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.CredentialTTL)
	authenticator := auth.NewAuthenticator(s, challenges, issuer, logger)
	sessions := session.NewManager(s, prov, logger)

	cleaner := cleanup.NewEngine(s, prov, challenges, cleanup.Intervals{
		ExpiredKeys:      cfg.Cleanup.ExpiredKeysInterval,
		InactiveSessions: cfg.Cleanup.InactiveSessionsInterval,
		Orphans:          cfg.Cleanup.OrphansInterval,
		SessionIdle:      cfg.Sessions.IdleTimeout,
	}, logger)

	g := &Gateway{
		config:        cfg,
		store:         s,
		challenges:    challenges,
		authenticator: authenticator,
		sessions:      sessions,
		cleaner:       cleaner,
		logger:        logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g
}

// routes builds the HTTP mux. Challenge and verify are the only
// unauthenticated API endpoints; everything session-related sits behind the
// bearer credential middleware.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/auth/challenge", g.handleChallenge)
	mux.HandleFunc("/auth/verify", g.handleVerify)

	authed := g.authenticator.Middleware
	mux.Handle("/session/start", authed(http.HandlerFunc(g.handleSessionStart)))
	mux.Handle("/session/info", authed(http.HandlerFunc(g.handleSessionInfo)))
	mux.Handle("/session/end", authed(http.HandlerFunc(g.handleSessionEnd)))
	mux.Handle("/users/lookup", authed(http.HandlerFunc(g.handleLookup)))
	mux.Handle("/admin/cleanup", authed(http.HandlerFunc(g.handleCleanup)))

	return mux
}

// Run starts the HTTP server and the cleanup engine and blocks until the
// context is cancelled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go g.cleaner.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.challenges.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
