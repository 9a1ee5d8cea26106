package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
	"github.com/custodia-labs/agencylink/internal/core/ports/driving"
	"github.com/custodia-labs/agencylink/internal/metrics"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	version    string
	logger     *slog.Logger
	returnTo   returnToPolicy

	// Services
	installService   driving.InstallService
	discoveryService driving.DiscoveryService
	authAdapter      driven.AuthAdapter

	// Infrastructure
	store Pinger // token store health check
	lock  Pinger // lock backend health check (optional)
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	AllowedOrigins []string

	// ReturnToAllowed lists absolute returnTo targets as "host/path/prefix".
	// Local paths are always accepted.
	ReturnToAllowed []string

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReturnToAllowed: DefaultReturnToAllowed,
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	installService driving.InstallService,
	discoveryService driving.DiscoveryService,
	authAdapter driven.AuthAdapter,
	store Pinger,
	lock Pinger, // can be nil
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		logger:           logger,
		returnTo:         newReturnToPolicy(cfg.ReturnToAllowed),
		installService:   installService,
		discoveryService: discoveryService,
		authAdapter:      authAdapter,
		store:            store,
		lock:             lock,
	}

	s.setupRoutes()

	// The logging middleware sits directly on the mux so it can read the
	// matched route pattern.
	var h http.Handler = s.router
	h = NewLoggingMiddleware(logger).Handler(h)
	if len(cfg.AllowedOrigins) > 0 {
		h = NewCORSMiddleware(cfg.AllowedOrigins).Handler(h)
	}
	h = NewRequestIDMiddleware().Handler(h)
	h = NewRecoveryMiddleware(logger).Handler(h)
	s.handler = h

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // callbacks run discovery inline
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.authAdapter)
	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.Handle("GET /metrics", metrics.Handler())
	s.router.HandleFunc("GET /swagger/doc.json", s.handleOpenAPI)

	// Install flow (public, the provider redirects the browser here)
	s.router.HandleFunc("GET /oauth/authorize", s.handleAuthorize)
	s.router.HandleFunc("GET /oauth/callback", s.handleCallback)

	// SSO context (public, the payload itself is the credential)
	s.router.HandleFunc("POST /api/v1/sso/context", s.handleResolveUserContext)

	// Install status (public, embedded pages poll it)
	s.router.HandleFunc("GET /api/v1/installed", s.handleInstalled)

	// Administrative endpoints
	s.router.Handle("POST /api/v1/agencies/discover", admin(s.handleDiscover))
	s.router.Handle("GET /api/v1/agency", admin(s.handleGetAgencyInstall))
	s.router.Handle("GET /api/v1/installs/{tenantKey}", admin(s.handleGetInstall))
	s.router.Handle("POST /api/v1/installs/{tenantKey}/refresh", admin(s.handleRefreshInstall))
	s.router.Handle("GET /api/v1/tokens/location", admin(s.handleSubAccountToken))
}

// Handler returns the fully wrapped handler. Mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
