// Package server exposes the freight engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
	"github.com/alanyoungcy/freightquote/internal/server/handler"
	"github.com/alanyoungcy/freightquote/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port               int
	CORSOrigins        []string
	APIKey             string // empty disables authentication
	RateLimitPerMinute int    // zero disables rate limiting
}

// Handlers aggregates the endpoint handlers. Metrics may be nil.
type Handlers struct {
	Health        *handler.HealthHandler
	Freight       *handler.FreightHandler
	Notifications *handler.NotificationHandler
	Metrics       http.Handler
}

// Instrumenter wraps the whole handler chain, typically with request metrics.
type Instrumenter func(http.Handler) http.Handler

// Server is the freight HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and builds the middleware chain. limiter
// and instrument may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, instrument Instrumenter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(cfg, handlers, limiter, instrument, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Bulk requests pace listings a second apart.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter returns the API handler with middleware applied.
func NewRouter(cfg Config, handlers Handlers, limiter domain.RateLimiter, instrument Instrumenter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	mux.HandleFunc("GET /api/freight/{listingID}", handlers.Freight.GetFreight)
	mux.HandleFunc("GET /api/freight/{listingID}/history", handlers.Freight.History)
	mux.HandleFunc("POST /api/freight/{listingID}/invalidate", handlers.Freight.Invalidate)
	mux.HandleFunc("POST /api/freight/bulk", handlers.Freight.CalculateBulk)
	mux.HandleFunc("DELETE /api/freight/cache", handlers.Freight.ClearCache)

	mux.HandleFunc("POST /api/notifications", handlers.Notifications.Receive)

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	// Webhooks come from the marketplace, which cannot present our key.
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics", "/api/notifications")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	if instrument != nil {
		h = instrument(h)
	}
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
