package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/treasury/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector refreshes gauges that are not updated on the request path
type Collector func(ctx context.Context) error

// MetricsServer serves Prometheus metrics and health probes via HTTP
type MetricsServer struct {
	httpServer *http.Server
	handler    http.Handler
	collect    Collector
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port            int
	Path            string
	CollectInterval time.Duration
}

// NewMetricsServer creates a new metrics server. collect may be nil.
func NewMetricsServer(
	cfg *MetricsServerConfig,
	gatherer prometheus.Gatherer,
	checker *health.HealthChecker,
	collect Collector,
	logger *zap.Logger,
) *MetricsServer {
	mux := http.NewServeMux()

	mux.Handle(cfg.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", checker.LivenessHandler)
	mux.HandleFunc("/ready", checker.ReadinessHandler)

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler:  mux,
		collect:  collect,
		interval: cfg.CollectInterval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start starts the metrics server in the background
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	if s.collect != nil && s.interval > 0 {
		go s.collectLoop()
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	s.logger.Info("Stopping metrics server")

	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

// Handler returns the metrics server's routes
func (s *MetricsServer) Handler() http.Handler {
	return s.handler
}

func (s *MetricsServer) collectLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCollector()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MetricsServer) runCollector() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	if err := s.collect(ctx); err != nil {
		s.logger.Error("Failed to collect ledger metrics", zap.Error(err))
	}
}
