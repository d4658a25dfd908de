package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP listener wrapping the pipeline with the middleware chain
// and the metrics endpoint.
type Server struct {
	pipeline *Pipeline
	registry *prometheus.Registry
	server   *http.Server
	addr     string
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8443".
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.addr = addr }
}

// NewServer assembles the middleware chain around the pipeline:
// metrics → request-id → real-ip → pipeline. The gate sequence itself lives
// inside the pipeline.
func NewServer(pipeline *Pipeline, metrics *Metrics, registry *prometheus.Registry, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		pipeline: pipeline,
		registry: registry,
		addr:     "127.0.0.1:8443",
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	var handler http.Handler = pipeline
	handler = RealIPMiddleware(handler)
	handler = RequestIDMiddleware(logger)(handler)
	handler = MetricsMiddleware(metrics)(handler)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/", handler)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// NewRegistry creates a Prometheus registry with the standard process and Go
// runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Start begins serving and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown drains in-flight requests with a bounded grace period.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}
