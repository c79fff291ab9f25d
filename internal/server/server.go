// Package server exposes the evaluation engine over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/pkg/middleware"
	"github.com/ricesearch/rice-eval/internal/results"
	"github.com/ricesearch/rice-eval/internal/telemetry"
)

// Server serves the evaluation API, stored runs, health and metrics.
type Server struct {
	cfg        Config
	log        *logger.Logger
	handler    http.Handler
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	closers    []io.Closer

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout. Dataset runs answer only when
	// every query is scored, so it is generous.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration

	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	Burst     int

	// MetricsPath is where Prometheus metrics are served.
	MetricsPath string
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8090,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MetricsPath:     "/metrics",
	}
}

// ConfigFrom builds a server config from the application config.
func ConfigFrom(appCfg config.Config, version string) Config {
	cfg := DefaultConfig()
	cfg.Host = appCfg.Server.Host
	cfg.Port = appCfg.Server.Port
	cfg.Version = version
	cfg.RateLimit = appCfg.Server.RateLimit
	cfg.Burst = appCfg.Server.Burst
	if appCfg.Observability.MetricsPath != "" {
		cfg.MetricsPath = appCfg.Observability.MetricsPath
	}
	return cfg
}

// Deps holds the components the server routes to.
type Deps struct {
	// Evaluation serves the evaluation API. Required.
	Evaluation *evaluation.Handler

	// Runs serves stored runs when set.
	Runs results.Store

	// Events serves journaled run events when set.
	Events EventSource

	// Gatherer serves Prometheus metrics when set.
	Gatherer prometheus.Gatherer

	// Checks are the readiness checks, by component name.
	Checks map[string]CheckFunc

	// Closers are closed by Stop, in order.
	Closers []io.Closer
}

// New creates a server over deps.
func New(cfg Config, deps Deps, log *logger.Logger) (*Server, error) {
	if deps.Evaluation == nil {
		return nil, fmt.Errorf("evaluation handler is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = def.MetricsPath
	}

	s := &Server{cfg: cfg, log: log, closers: deps.Closers}

	mux := http.NewServeMux()
	NewHealthChecker(cfg.Version, deps.Checks).RegisterRoutes(mux)
	deps.Evaluation.RegisterRoutes(mux)
	if deps.Runs != nil {
		NewRunsHandler(deps.Runs).RegisterRoutes(mux)
	}
	if deps.Events != nil {
		NewEventsHandler(deps.Events).RegisterRoutes(mux)
	}
	if deps.Gatherer != nil {
		mux.Handle("GET "+cfg.MetricsPath, telemetry.Handler(deps.Gatherer))
	}

	var handler http.Handler = mux
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.Burst,
		})
		handler = s.limiter.Middleware(handler)
	}
	handler = corsMiddleware(handler)
	s.handler = loggingMiddleware(handler, log)

	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Stop is called. It returns http.ErrServerClosed after a
// graceful stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr)
	return srv.ListenAndServe()
}

// Stop gracefully stops the server and closes its dependencies.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.log.Warn("Close error", "error", err)
		}
	}

	s.started = false
	s.log.Info("Server stopped")
	return nil
}

// Health returns the server health status.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
