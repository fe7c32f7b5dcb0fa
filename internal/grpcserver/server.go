// Package grpcserver exposes the standard gRPC health service, mirroring
// the component health tracked by the HTTP health checker.
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"sentra/backend/pkg/health"
	"sentra/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall "" service
const ServiceName = "sentra.chat"

// StatusSource is the component health the server mirrors
type StatusSource interface {
	IsSystemHealthy() bool
	GetStatus() map[string]health.Component
}

// Server is a gRPC server carrying the health service
type Server struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	source   StatusSource
	interval time.Duration
	log      *logger.Logger
}

// New creates the server. interval is how often the health status is re-read.
func New(source StatusSource, interval time.Duration, log *logger.Logger) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   grpchealth.NewServer(),
		source:   source,
		interval: interval,
		log:      log.With("component", "grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync()
	return s
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Sync copies the current health into the gRPC health service. Each
// component is also published under its own name.
func (s *Server) Sync() {
	overall := servingStatus(s.source.IsSystemHealthy())
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ServiceName, overall)

	for name, c := range s.source.GetStatus() {
		s.health.SetServingStatus(name, servingStatus(c.Status != health.StatusDown))
	}
}

// Serve accepts connections on lis until ctx is done
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Sync()
			}
		}
	}()

	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on :port and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}
