// Package server runs the gRPC health endpoint that reports whether the
// gateway can currently serve requests.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service reported alongside the overall "".
const ServiceName = "repogate.v1.Gateway"

// DefaultInterval is the probe period used when Config.Interval is zero.
const DefaultInterval = 30 * time.Second

// Check reports one readiness condition. A non-nil error marks the
// gateway NOT_SERVING until the next successful probe.
type Check func(ctx context.Context) error

// Config holds health server configuration.
type Config struct {
	Checks   map[string]Check
	Interval time.Duration
	Logger   *slog.Logger
}

// Server wraps a gRPC server exposing grpc.health.v1.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	checks     map[string]Check
	interval   time.Duration
	log        *slog.Logger

	mu      sync.Mutex
	results map[string]error
}

// New creates a health server. Both services start NOT_SERVING.
func New(cfg Config) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		checks:     cfg.Checks,
		interval:   cfg.Interval,
		log:        cfg.Logger,
		results:    map[string]error{},
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s
}

// Probe runs every check once and updates the reported status.
func (s *Server) Probe(ctx context.Context) bool {
	names := make([]string, 0, len(s.checks))
	for n := range s.checks {
		names = append(names, n)
	}
	sort.Strings(names)

	ok := true
	results := make(map[string]error, len(names))
	for _, n := range names {
		err := s.checks[n](ctx)
		results[n] = err
		if err != nil {
			ok = false
			s.log.Warn("readiness check failed", "check", n, "error", err)
		}
	}

	s.mu.Lock()
	s.results = results
	s.mu.Unlock()

	if ok {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Results returns the outcome of the last probe by check name.
func (s *Server) Results() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.results))
	for n, err := range s.results {
		if err != nil {
			out[n] = err.Error()
		} else {
			out[n] = "ok"
		}
	}
	return out
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve probes once, then serves on lis and re-probes every interval
// until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Probe(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpcServer.Serve(lis) }()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.log.Info("health endpoint listening", "addr", lis.Addr().String())
	return s.Serve(ctx, lis)
}

// Stop marks every service NOT_SERVING and stops gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
