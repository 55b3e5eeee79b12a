// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package observability serves Prometheus metrics and health checks for the
// auth service on a dedicated listener.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// Endpoint paths.
const (
	MetricsPath   = "/metrics"
	LivenessPath  = "/healthz/liveness"
	ReadinessPath = "/healthz/readiness"
)

// ReadinessChecker reports why the service cannot take traffic, or nil when
// it can. The context is the health request's.
type ReadinessChecker func(ctx context.Context) error

// Server exposes metrics and health endpoints until stopped.
type Server struct {
	addr     string
	registry *prometheus.Registry
	ready    ReadinessChecker
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithReadiness sets the readiness check. Without one the service always
// reports ready.
func WithReadiness(checker ReadinessChecker) ServerOption {
	return func(s *Server) {
		s.ready = checker
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBuildInfo exports authservice_build_info with the given version and
// commit labels.
func WithBuildInfo(version, commit string) ServerOption {
	return func(s *Server) {
		info := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "authservice_build_info",
			Help:        "Build information of the running binary.",
			ConstLabels: prometheus.Labels{"version": version, "commit": commit},
		})
		info.Set(1)
		s.registry.MustRegister(info)
	}
}

// NewServer creates a server for addr ("127.0.0.1:9100", ":9100", or port 0
// in tests). Its registry carries the Go runtime and process collectors.
func NewServer(addr string, opts ...ServerOption) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		addr:     addr,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry served on MetricsPath.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the health and metrics routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc(LivenessPath, func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc(ReadinessPath, s.handleReadiness)
	return mux
}

// Start listens on the configured address and serves in the background.
// The returned channel yields a serve failure, and is closed once the server
// has stopped.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil, oops.Code("OBSERVABILITY_ALREADY_RUNNING").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.http = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server error", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return oops.Code("OBSERVABILITY_SHUTDOWN_FAILED").Wrap(err)
	}
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeStatus(w, http.StatusOK, "ok")
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n")) //nolint:errcheck // client may have gone away
}
