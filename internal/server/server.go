// Package server provides the HTTP and gRPC servers of a treasury node.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/treasury/internal/config"
	"github.com/devrev/treasury/internal/handler"
	"github.com/devrev/treasury/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the treasury HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.TreasuryHandler
	errorHandler *handler.ErrorHandler
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	handlers *handler.TreasuryHandler,
	errorHandler *handler.ErrorHandler,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		errorHandler: errorHandler,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	middlewareChain = append(middlewareChain,
		middleware.MaxBody(s.cfg.Server.MaxBodyBytes),
		middleware.Timeout(s.cfg.Server.RequestTimeout),
		middleware.ContentType,
	)

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	s.handlers.RegisterRoutes(s.router)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.MethodNotAllowed)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
