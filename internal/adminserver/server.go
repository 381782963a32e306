// Package adminserver exposes the agent's liveness as a standard gRPC
// health-checking service (spec.md §2.5): one overall status plus one
// per-observer status, so an external prober or the cluster's own
// health system can watch either granularity without a hand-rolled
// protocol.
package adminserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nodewatch/agent/internal/observer"
)

const (
	defaultPollInterval = 5 * time.Second
	serviceNamePrefix   = "nodewatch.observer."
)

// Server runs the gRPC health-checking surface. Unlike the teacher's
// hand-rolled Unix-socket JSON operator protocol, there is no custom
// wire format here: google.golang.org/grpc/health already is the
// standard gRPC health-checking service, so a prober needs nothing
// beyond the grpc_health_v1 stub.
type Server struct {
	Addr         string
	Log          *zap.Logger
	Observers    []observer.Observer
	PollInterval time.Duration

	health     *health.Server
	grpcServer *grpc.Server
}

// New constructs a Server watching the given observers' IsUnhealthy bit.
func New(addr string, observers []observer.Observer, log *zap.Logger) *Server {
	return &Server{
		Addr:         addr,
		Log:          log,
		Observers:    observers,
		PollInterval: defaultPollInterval,
		health:       health.NewServer(),
	}
}

// ServiceName is the per-observer health-check service name the spec
// assigns each observer: "nodewatch.observer.<name>".
func ServiceName(observerName string) string {
	return serviceNamePrefix + observerName
}

// ListenAndServe binds addr, registers the health service, starts the
// status-polling goroutine, and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("adminserver: listen %q: %w", s.Addr, err)
	}

	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	s.setAllServing()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go s.pollObservers(pollCtx)

	serveErr := make(chan error, 1)
	go func() {
		s.Log.Info("admin gRPC health server listening", zap.String("addr", s.Addr))
		serveErr <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.GracefulStop()
		return nil
	case err := <-serveErr:
		return err
	}
}

// pollObservers flips each observer's serving status as IsUnhealthy
// transitions, and the overall ("") status to NOT_SERVING the moment
// any observer is unhealthy.
func (s *Server) pollObservers(ctx context.Context) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshStatuses()
		}
	}
}

func (s *Server) refreshStatuses() {
	anyUnhealthy := false
	for _, obs := range s.Observers {
		unhealthy := obs.IsUnhealthy()
		anyUnhealthy = anyUnhealthy || unhealthy
		s.health.SetServingStatus(ServiceName(obs.Name()), servingStatus(!unhealthy))
	}
	s.health.SetServingStatus("", servingStatus(!anyUnhealthy))
}

func (s *Server) setAllServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, obs := range s.Observers {
		s.health.SetServingStatus(ServiceName(obs.Name()), healthpb.HealthCheckResponse_SERVING)
	}
}

func servingStatus(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
