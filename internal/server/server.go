// Package server exposes the vault daemon's HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/harborfund/vaultd/internal/domain"
	"github.com/harborfund/vaultd/internal/server/handler"
	"github.com/harborfund/vaultd/internal/server/middleware"
	"github.com/harborfund/vaultd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKeys         []string // if empty, authentication is disabled
	RateLimitPerMin int      // requests per client per minute; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Funds    *handler.FundHandler
	Trades   *handler.TradeHandler
	Events   *handler.EventsHandler
	Archives *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server for the vault daemon.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Fund administration and custody.
	mux.HandleFunc("POST /api/funds", handlers.Funds.CreateFund)
	mux.HandleFunc("GET /api/funds", handlers.Funds.ListFunds)
	mux.HandleFunc("GET /api/funds/{id}", handlers.Funds.GetFund)
	mux.HandleFunc("POST /api/funds/{id}/assets", handlers.Funds.RegisterAsset)
	mux.HandleFunc("PUT /api/funds/{id}/policy", handlers.Funds.UpdatePolicy)
	mux.HandleFunc("POST /api/funds/{id}/deposits", handlers.Funds.Deposit)
	mux.HandleFunc("POST /api/funds/{id}/withdrawals", handlers.Funds.Withdraw)
	mux.HandleFunc("GET /api/funds/{id}/withdrawals", handlers.Funds.ListWithdrawals)
	mux.HandleFunc("GET /api/audit", handlers.Funds.AuditTrail)

	// Trading and settlement.
	mux.HandleFunc("POST /api/funds/{id}/trade-grants", handlers.Trades.GrantTrade)
	mux.HandleFunc("POST /api/funds/{id}/orders", handlers.Trades.SubmitOrder)
	mux.HandleFunc("GET /api/funds/{id}/settlements", handlers.Trades.ListSettlements)
	mux.HandleFunc("POST /api/exchanges", handlers.Trades.PrepareExchange)
	mux.HandleFunc("GET /api/exchanges/{id}", handlers.Trades.GetExchange)
	mux.HandleFunc("POST /api/exchanges/{id}/buy", handlers.Trades.ExecuteBuy)
	mux.HandleFunc("POST /api/exchanges/{id}/sell", handlers.Trades.ExecuteSell)
	mux.HandleFunc("POST /api/exchanges/{id}/finish", handlers.Trades.FinishExchange)

	// Event replay and archive catalogue.
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.Replay)
	}
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.List)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.Get)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKeys)(h)

	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
	}

	h = middleware.Logging(logger)(h)

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
