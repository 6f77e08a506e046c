// Package web implements the server-rendered HTTP frontend: the login /
// callback / logout flow, the protected Graph pages, and the forms.
package web

import (
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/avolkov/graphport/internal/config"
	"github.com/avolkov/graphport/internal/graph"
	"github.com/avolkov/graphport/internal/oidc"
	"github.com/avolkov/graphport/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Server is the HTTP server for the web frontend
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	mux        *http.ServeMux
	templates  *template.Template
	oidcClient *oidc.Client
	store      session.Store
	graph      *graph.Client

	// baseURL is the external scheme://host derived from the registered
	// redirect URI; used to build absolute URLs (post-logout redirect).
	baseURL string

	// version is the running build's version, reported by /health
	version string
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, oidcClient *oidc.Client, store session.Store, graphClient *graph.Client, version string) (*Server, error) {
	// Parse templates
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	redirectURL, err := url.Parse(cfg.OIDC.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redirect URI: %w", err)
	}
	callbackPath := redirectURL.Path
	if callbackPath == "" || callbackPath == "/" {
		return nil, fmt.Errorf("oidc.redirect_uri must carry a non-root callback path")
	}

	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		templates:  templates,
		oidcClient: oidcClient,
		store:      store,
		graph:      graphClient,
		baseURL:    redirectURL.Scheme + "://" + redirectURL.Host,
		version:    version,
	}

	// Register routes. The callback path must exactly match the redirect
	// URI registered with the identity provider.
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /login", s.handleLogin)
	s.mux.HandleFunc("GET "+callbackPath, s.handleCallback)
	s.mux.HandleFunc("GET /logout", s.handleLogout)
	s.mux.HandleFunc("GET /graphcall", s.handleGraphCall)
	s.mux.HandleFunc("GET /get-access-token", s.handleAccessToken)
	s.mux.HandleFunc("GET /send-mail", s.handleSendMail)
	s.mux.HandleFunc("POST /send-mail", s.handleSendMail)
	s.mux.HandleFunc("GET /create-task", s.handleCreateTask)
	s.mux.HandleFunc("POST /create-task", s.handleCreateTask)
	s.mux.HandleFunc("GET /get-tasks", s.handleTasks)
	s.mux.HandleFunc("GET /get-user-profile", s.handleUserProfile)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Wrap with middleware
	handler := loggingMiddleware(s.mux)
	handler = recoveryMiddleware(handler)
	handler = rateLimitMiddleware(handler)
	handler = securityHeadersMiddleware(handler)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"tls", s.cfg.TLS.Enabled,
	)

	if s.cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
