package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/backend"
	"github.com/dgellow/gh-oauth-relay/internal/config"
	"github.com/dgellow/gh-oauth-relay/internal/crypto"
	"github.com/dgellow/gh-oauth-relay/internal/github"
	"github.com/dgellow/gh-oauth-relay/internal/log"
	"github.com/dgellow/gh-oauth-relay/internal/server"
	"github.com/dgellow/gh-oauth-relay/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	stateKeyPurpose = "gh-oauth-relay oauth state v1"
)

// Relay is the complete GitHub OAuth relay application
type Relay struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
	states     storage.StateStore
	cleanup    *storage.CleanupManager
}

// NewRelay builds every component from cfg.
func NewRelay(ctx context.Context, cfg config.Config) (*Relay, error) {
	log.LogInfoWithFields("relay", "Building GitHub OAuth relay", map[string]any{
		"environment": cfg.Environment,
		"backend":     cfg.BackendURL,
		"stateMode":   string(cfg.State.Mode),
	})

	states, err := setupStateStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup state store: %w", err)
	}

	var cleanup *storage.CleanupManager
	if cleaner, ok := states.(storage.Cleaner); ok {
		cleanup = storage.NewCleanupManager(cleaner, cfg.State.CleanupInterval)
	}

	gh := github.NewClient(cfg.GitHub.ClientID, string(cfg.GitHub.ClientSecret), githubOptions(cfg.GitHub)...)
	be := backend.NewClient(cfg.BackendURL, nil)
	auth := server.NewAuthHandlers(cfg, gh, be, states)
	handler := server.NewRouter(cfg, auth)

	return &Relay{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
		states:     states,
		cleanup:    cleanup,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (r *Relay) Handler() http.Handler {
	return r.handler
}

// Run serves until ctx is cancelled, SIGINT/SIGTERM arrives, or a component
// fails, then shuts the HTTP server down gracefully.
func (r *Relay) Run(ctx context.Context) error {
	log.LogInfoWithFields("relay", "Starting GitHub OAuth relay", map[string]any{
		"addr": r.config.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if r.cleanup != nil {
		g.Go(func() error {
			return r.cleanup.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.LogInfoWithFields("relay", "Starting graceful shutdown", map[string]any{
			"reason":  context.Cause(gctx).Error(),
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return r.httpServer.Stop(shutdownCtx)
	})

	err := g.Wait()

	if closer, ok := r.states.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			log.LogWarnWithFields("relay", "Failed to close state store", map[string]any{
				"error": cerr.Error(),
			})
		}
	}

	if err != nil {
		return err
	}
	log.LogInfoWithFields("relay", "Application shutdown complete", nil)
	return nil
}

func githubOptions(cfg config.GitHubConfig) []github.Option {
	var opts []github.Option
	if cfg.AuthURL != "" && cfg.TokenURL != "" {
		opts = append(opts, github.WithEndpoint(cfg.AuthURL, cfg.TokenURL))
	}
	if cfg.APIBaseURL != "" {
		opts = append(opts, github.WithAPIBaseURL(cfg.APIBaseURL))
	}
	return opts
}

// setupStateStore creates the state store selected by STATE_VALIDATION.
func setupStateStore(ctx context.Context, cfg config.Config) (storage.StateStore, error) {
	switch cfg.State.Mode {
	case config.StateModeUnchecked, "":
		log.LogWarnWithFields("state", "OAuth state is not validated on callback, set STATE_VALIDATION to enable CSRF protection", nil)
		return storage.NewUncheckedStore(), nil

	case config.StateModeSigned:
		key := []byte(cfg.State.SigningKey)
		if len(key) == 0 {
			derived, err := crypto.DeriveKey([]byte(cfg.GitHub.ClientSecret), stateKeyPurpose)
			if err != nil {
				return nil, fmt.Errorf("failed to derive state signing key: %w", err)
			}
			key = derived
			log.LogInfoWithFields("state", "Derived state signing key from client secret", nil)
		}
		return storage.NewSignedStore(key, cfg.State.TTL)

	case config.StateModeMemory:
		log.LogInfoWithFields("state", "Using in-memory state store", map[string]any{
			"ttl": cfg.State.TTL.String(),
		})
		return storage.NewMemoryStore(cfg.State.TTL), nil

	case config.StateModeFirestore:
		log.LogInfoWithFields("state", "Using Firestore state store", map[string]any{
			"project":    cfg.State.GCPProject,
			"database":   cfg.State.FirestoreDatabase,
			"collection": cfg.State.FirestoreCollection,
		})
		return storage.NewFirestoreStore(ctx, cfg.State.GCPProject, cfg.State.FirestoreDatabase, cfg.State.FirestoreCollection, cfg.State.TTL)

	default:
		return nil, fmt.Errorf("unknown state mode %q", cfg.State.Mode)
	}
}
