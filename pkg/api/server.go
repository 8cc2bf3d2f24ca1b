package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	apimiddleware "github.com/0xmhha/tokenwatch/pkg/api/middleware"
	"github.com/0xmhha/tokenwatch/pkg/monitor"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Controller is the monitor surface exposed over HTTP.
type Controller interface {
	GetStatus(tenantID string) monitor.Status
	Tenants() []storage.TenantConfig
	SetDestination(ctx context.Context, tenantID string, dest storage.Destination) (storage.TenantConfig, error)
	ToggleEnabled(ctx context.Context, tenantID string) (bool, error)
	SetGlobalEnabled(ctx context.Context, enabled bool) error
	Health() monitor.Health
	State() monitor.State
	Checkpoint() (uint64, bool)
	ConsecutiveFailures() int
	LastError() error
	LastCycleAt() time.Time
}

// Server serves the control API.
type Server struct {
	config     *Config
	controller Controller
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	router     *chi.Mux
	server     *http.Server
	limiter    *apimiddleware.RateLimiter
	startedAt  time.Time
}

// NewServer creates a control API server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(config *Config, controller Controller, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:     config,
		controller: controller,
		gatherer:   gatherer,
		logger:     logger.Named("api"),
		router:     chi.NewRouter(),
		startedAt:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))

	if s.config.EnableRateLimit {
		s.limiter = apimiddleware.NewRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst)
		s.router.Use(apimiddleware.RateLimit(s.limiter, s.logger))
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/tenants", s.handleListTenants)
		r.Get("/tenants/{id}", s.handleGetTenant)

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireAPIKey(s.config.APIKey, s.logger))
			r.Put("/tenants/{id}/destination", s.handleSetDestination)
			r.Post("/tenants/{id}/toggle", s.handleToggle)
			r.Put("/monitor/enabled", s.handleSetGlobalEnabled)
		})
	})
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("address", s.config.Address()))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Serve serves on an existing listener until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting API server", zap.String("address", l.Addr().String()))

	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	if s.limiter != nil {
		s.limiter.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
