package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openvault/vaultd/internal/crypto"
	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/server/handler"
	"github.com/openvault/vaultd/internal/server/middleware"
	"github.com/openvault/vaultd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	HMACKey         string // with HMACSecret, replaces APIKey auth with signed requests
	HMACSecret      string
	RateLimit       int // requests per window per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Accounts *handler.AccountHandler
	MetaTx   *handler.MetaTxHandler
}

// Server is the headless HTTP + WebSocket API for the custody service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub. limiter may be nil when no Redis is configured.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Account lifecycle endpoints.
	mux.HandleFunc("POST /api/accounts", handlers.Accounts.CreateAccount)
	mux.HandleFunc("GET /api/accounts/{id}", handlers.Accounts.GetAccount)
	mux.HandleFunc("POST /api/accounts/{id}/strategy", handlers.Accounts.RunStrategy)
	mux.HandleFunc("POST /api/accounts/{id}/claim", handlers.Accounts.Claim)
	mux.HandleFunc("POST /api/accounts/{id}/withdraw", handlers.Accounts.Withdraw)
	mux.HandleFunc("GET /api/accounts/{id}/events", handlers.Accounts.ListEvents)

	// Meta-transaction relay endpoint.
	mux.HandleFunc("POST /api/metatx", handlers.MetaTx.Submit)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth: signed requests when HMAC credentials are configured,
	// otherwise the static-key check (disabled when APIKey is empty).
	if cfg.HMACKey != "" && cfg.HMACSecret != "" {
		h = middleware.HMAC(&crypto.RequestAuth{Key: cfg.HMACKey, Secret: cfg.HMACSecret})(h)
	} else {
		h = middleware.Auth(cfg.APIKey)(h)
	}

	// Apply per-client rate limiting when a limiter is configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
