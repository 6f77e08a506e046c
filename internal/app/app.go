// Package app orchestrates all the components of the Graph portal.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avolkov/graphport/internal/config"
	"github.com/avolkov/graphport/internal/graph"
	"github.com/avolkov/graphport/internal/oidc"
	"github.com/avolkov/graphport/internal/session"
	"github.com/avolkov/graphport/internal/web"
)

// App represents the application process that coordinates all components.
type App struct {
	cfg        *config.Config
	oidcClient *oidc.Client
	store      session.Store
	webServer  *web.Server
}

// New creates a new application with all components initialized. The
// version string is the build version stamped into the binary; it is
// surfaced by the health endpoint.
func New(cfg *config.Config, version string) (*App, error) {
	// Initialize OIDC client (performs provider discovery)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	oidcClient, err := oidc.NewClient(ctx, &cfg.OIDC)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OIDC client: %w", err)
	}

	slog.Info("OIDC client initialized",
		"issuer", cfg.OIDC.Issuer,
		"client_id", cfg.OIDC.ClientID,
	)

	// Initialize session store
	sessionTTL := time.Duration(cfg.Session.Timeout) * time.Second
	store, err := newStore(ctx, cfg, sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	slog.Info("session store initialized",
		"backend", cfg.Session.Store,
		"timeout", sessionTTL,
	)

	// Initialize Graph gateway
	graphClient := graph.NewClient(&cfg.Graph)

	// Initialize web server
	webServer, err := web.NewServer(cfg, oidcClient, store, graphClient, version)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize web server: %w", err)
	}

	slog.Info("web server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	return &App{
		cfg:        cfg,
		oidcClient: oidcClient,
		store:      store,
		webServer:  webServer,
	}, nil
}

// newStore selects the session store backend from the configuration.
func newStore(ctx context.Context, cfg *config.Config, ttl time.Duration) (session.Store, error) {
	switch cfg.Session.Store {
	case "redis":
		return session.NewRedisStore(ctx, &cfg.Session.Redis, ttl)
	default:
		return session.NewMemoryStore(ttl), nil
	}
}

// Run starts the application and blocks until a shutdown signal is received.
func (a *App) Run() error {
	slog.Info("starting Graph portal")

	// Start web server in a goroutine (it blocks on ListenAndServe)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := a.webServer.Start(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	// Wait for shutdown signal or startup error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("web server failed to start", "error", err)
			if closeErr := a.store.Close(); closeErr != nil {
				slog.Error("error closing session store after startup failure", "error", closeErr)
			}
			return fmt.Errorf("web server failed: %w", err)
		}
	}

	// Shutdown gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.webServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping web server", "error", err)
	}

	if err := a.store.Close(); err != nil {
		slog.Error("error closing session store", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
