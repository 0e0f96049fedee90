// Package server exposes the session registry over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/entrhq/browser-api/pkg/config"
	"github.com/entrhq/browser-api/pkg/logging"
	"github.com/entrhq/browser-api/pkg/metrics"
	"github.com/entrhq/browser-api/pkg/policy"
	"github.com/entrhq/browser-api/pkg/session"
)

// Server serves the browser API.
type Server struct {
	config   *config.Config
	registry *session.Registry
	hosts    *policy.HostMatcher
	metrics  *metrics.Metrics
	logger   *logging.Logger

	router     *gin.Engine
	httpServer *http.Server
	now        func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves them on /metrics when enabled in
// the configuration.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger; without it the server is silent.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the server and its routes. It fails if the host policy patterns do
// not compile.
func New(cfg *config.Config, registry *session.Registry, opts ...Option) (*Server, error) {
	hosts, err := policy.NewHostMatcher(cfg.Policy.AllowedHosts, cfg.Policy.DeniedHosts)
	if err != nil {
		return nil, fmt.Errorf("invalid host policy: %w", err)
	}

	s := &Server{
		config:   cfg,
		registry: registry,
		hosts:    hosts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           s.router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(s.recoveryMiddleware())
	r.Use(requestIDMiddleware())
	r.Use(s.accessLogMiddleware())
	if s.metrics != nil {
		r.Use(s.metricsMiddleware())
	}
	r.Use(bodyLimitMiddleware(s.config.Server.BodyLimit))

	r.GET("/health", s.handleHealth)
	r.GET("/tools", s.handleTools)
	r.GET("/sessions", s.handleSessions)
	if s.metrics != nil && s.config.Server.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	b := r.Group("/browser")
	b.POST("/launch", s.handleLaunch)
	b.POST("/navigate", s.handleNavigate)
	b.POST("/get-content", s.handleGetContent)
	b.POST("/click", s.handleClick)
	b.POST("/screenshot", s.handleScreenshot)
	b.POST("/close", s.handleClose)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
	})

	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled, then
// shuts down gracefully. It returns early if the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Infof("HTTP server listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server failed: %w", err)
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		s.logger.Infof("shutdown requested")
	case err, ok := <-serveErr:
		if ok {
			return err
		}
		return nil
	}

	return s.Shutdown()
}

// Shutdown stops accepting connections and waits for in-flight requests, bounded by
// the configured shutdown timeout.
func (s *Server) Shutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	s.logger.Infof("HTTP server stopped")
	return nil
}
