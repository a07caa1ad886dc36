package server

import (
	"fmt"
	"net"
	"time"

	"github.com/devrev/treasury/internal/health"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TreasuryServiceName is the service name reported by the gRPC health service
const TreasuryServiceName = "treasury.v1.Treasury"

// GRPCHealthServer exposes the node's readiness through the standard gRPC
// health checking protocol
type GRPCHealthServer struct {
	grpcServer   *grpc.Server
	healthServer *grpchealth.Server
	checker      *health.HealthChecker
	addr         string
	interval     time.Duration
	listener     net.Listener
	logger       *zap.Logger
	stopChan     chan struct{}
}

// NewGRPCHealthServer creates a gRPC server carrying only the health service
func NewGRPCHealthServer(
	host string,
	port int,
	interval time.Duration,
	checker *health.HealthChecker,
	logger *zap.Logger,
) *GRPCHealthServer {
	grpcServer := grpc.NewServer()
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	if interval <= 0 {
		interval = time.Second
	}

	s := &GRPCHealthServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		checker:      checker,
		addr:         fmt.Sprintf("%s:%d", host, port),
		interval:     interval,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
	s.syncStatus()
	return s
}

// Start listens and serves in the background
func (s *GRPCHealthServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.logger.Info("Starting gRPC health server", zap.String("addr", listener.Addr().String()))

	go s.watch()
	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			s.logger.Error("gRPC health server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *GRPCHealthServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop reports NOT_SERVING to every watcher and stops the server
func (s *GRPCHealthServer) Stop() {
	s.logger.Info("Stopping gRPC health server")
	close(s.stopChan)
	s.healthServer.Shutdown()
	s.grpcServer.GracefulStop()
}

// HealthServer returns the underlying health service
func (s *GRPCHealthServer) HealthServer() healthpb.HealthServer {
	return s.healthServer
}

func (s *GRPCHealthServer) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.syncStatus()
		case <-s.stopChan:
			return
		}
	}
}

// syncStatus mirrors the checker's readiness into the health service
func (s *GRPCHealthServer) syncStatus() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.checker.IsReady() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
	s.healthServer.SetServingStatus(TreasuryServiceName, status)
}
