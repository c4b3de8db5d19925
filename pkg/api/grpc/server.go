package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	"github.com/aescanero/reactor/pkg/lifecycle"
)

// OrchestratorService is the health service name reporting orchestrator
// readiness. The empty name reports the same status.
const OrchestratorService = "reactor.Orchestrator"

// Server represents the gRPC API server
type Server struct {
	server       *grpc.Server
	listener     net.Listener
	health       *health.Server
	orchestrator *orchestrator.Manager
	interval     time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Config holds gRPC server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	// CheckInterval is how often readiness is re-evaluated (default 5s).
	CheckInterval time.Duration
	Logger        *zap.Logger
}

// NewServer creates a new gRPC server exposing the standard health service
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		server:       grpcServer,
		listener:     listener,
		health:       healthServer,
		orchestrator: cfg.Orchestrator,
		interval:     interval,
		logger:       cfg.Logger,
	}
	s.check()

	return s, nil
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server and the readiness checks. It blocks until
// the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		go s.watch(s.stopCh)
	}
	s.mu.Unlock()

	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

func (s *Server) watch(stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

// check publishes the orchestrator's readiness
func (s *Server) check() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.orchestrator.State() == lifecycle.Ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(OrchestratorService, status)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
