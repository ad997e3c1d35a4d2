// Package server runs the HTTP API and the gRPC health service on a single
// listener. cmux routes HTTP/2 requests with content-type application/grpc to
// gRPC and everything else to the HTTP handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Options tunes the HTTP side. Zero values select the defaults.
type Options struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 15 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 60 * time.Second
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 120 * time.Second
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 20 * time.Second
	}
	return o
}

// Server multiplexes HTTP and gRPC on one port.
type Server struct {
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	opts   Options
	logger *slog.Logger
}

// New builds the HTTP and gRPC servers. The health service starts NOT_SERVING
// until a HealthChecker reports otherwise.
func New(handler http.Handler, logger *slog.Logger, opts Options) *Server {
	opts = opts.withDefaults()

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	g := grpc.NewServer()
	healthpb.RegisterHealthServer(g, hs)
	reflection.Register(g)

	return &Server{
		http: &http.Server{
			Handler:      handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		grpc:   g,
		health: hs,
		opts:   opts,
		logger: logger,
	}
}

// Health returns the gRPC health server so a HealthChecker can drive it.
func (s *Server) Health() *health.Server { return s.health }

// Serve accepts connections on lis until ctx is cancelled, then shuts both
// protocols down gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	m := cmux.New(lis)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	errCh := make(chan error, 3)
	go func() {
		if err := s.grpc.Serve(grpcL); err != nil && !errors.Is(err, grpc.ErrServerStopped) && !isClosed(err) {
			errCh <- fmt.Errorf("server: grpc: %w", err)
		}
	}()
	go func() {
		if err := s.http.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosed(err) {
			errCh <- fmt.Errorf("server: http: %w", err)
		}
	}()
	go func() {
		if err := m.Serve(); err != nil && !isClosed(err) {
			errCh <- fmt.Errorf("server: mux: %w", err)
		}
	}()

	s.logger.Info("server listening", "addr", lis.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("server: shutdown requested")
	case serveErr = <-errCh:
	}

	s.health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	if err := s.http.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server: http shutdown: %w", err)
	}
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		s.grpc.Stop()
	}
	m.Close()

	if serveErr == nil {
		s.logger.Info("server: shutdown complete")
	}
	return serveErr
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, cmux.ErrServerClosed)
}
