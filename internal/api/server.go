package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/api/handlers"
	"github.com/danghamo/convoy/internal/api/middleware"
	"github.com/danghamo/convoy/internal/domain/auth"
	"github.com/danghamo/convoy/internal/metrics"
	"github.com/danghamo/convoy/pkg/autorouter"
	"github.com/danghamo/convoy/pkg/logger"
	"github.com/danghamo/convoy/pkg/sse"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	// RateLimit is requests per second per client IP; zero disables it
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`
	// HealthPath defaults to /health
	HealthPath string `json:"health_path"`
}

// HealthChecker is a dependency /health reports on
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the services the control API exposes. Routes, Devices,
// Metrics and Redis are optional.
type Dependencies struct {
	Sessions    handlers.SessionService
	Shipments   handlers.ShipmentBackend
	Drivers     handlers.DriverBackend
	Routes      handlers.RoutePlanner
	Devices     handlers.DeviceSink
	Operator    *auth.Operator
	JWT         *auth.JWTService
	Broadcaster *sse.SSEBroadcaster
	Metrics     *metrics.Collector
	Redis       HealthChecker
	Info        *handlers.ServerHandler
}

// Server represents the HTTP server
type Server struct {
	httpServer     *http.Server
	logger         *logger.Logger
	mux            *http.ServeMux
	deps           Dependencies
	config         ServerConfig
	authMiddleware *middleware.AuthMiddleware
}

// NewServer creates the control API server and mounts every route
func NewServer(config ServerConfig, deps Dependencies, logger *logger.Logger) (*Server, error) {
	if deps.Sessions == nil || deps.Operator == nil || deps.JWT == nil || deps.Broadcaster == nil {
		return nil, fmt.Errorf("sessions, operator, jwt and broadcaster are required")
	}
	if config.HealthPath == "" {
		config.HealthPath = "/health"
	}

	apiLogger := logger.WithComponent("api")
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Handler:      mux,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger:         apiLogger,
		mux:            mux,
		deps:           deps,
		config:         config,
		authMiddleware: middleware.NewAuthMiddleware(deps.JWT, apiLogger),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	s.setupMiddleware()

	return s, nil
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() error {
	// Health check endpoint (pure REST)
	s.mux.HandleFunc(s.config.HealthPath, s.healthCheckHandler)

	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	router := autorouter.New(s.mux, s.logger)
	public := autorouter.Options{Prefix: "/api/v1/"}
	protected := autorouter.Options{
		Prefix:     "/api/v1/",
		Middleware: []autorouter.Middleware{s.authMiddleware.RequireAuth},
	}

	type mount struct {
		namespace string
		handler   any
		opts      autorouter.Options
	}
	mounts := []mount{
		{"auth", handlers.NewAuthHandler(s.logger, s.deps.Operator, s.deps.JWT), public},
		{"tracking", handlers.NewTrackingHandler(s.logger, s.deps.Sessions), protected},
		{"geo", handlers.NewGeoHandler(s.logger, s.deps.Routes), protected},
	}
	if s.deps.Shipments != nil {
		mounts = append(mounts, mount{"shipment", handlers.NewShipmentHandler(s.logger, s.deps.Shipments), protected})
	}
	if s.deps.Drivers != nil {
		mounts = append(mounts, mount{"driver", handlers.NewDriverHandler(s.logger, s.deps.Drivers, s.deps.Devices), protected})
	}
	if s.deps.Info != nil {
		mounts = append(mounts, mount{"server", s.deps.Info, public})
	}

	for _, m := range mounts {
		opts := m.opts
		opts.Namespace = m.namespace
		routes, err := router.Register(m.handler, opts)
		if err != nil {
			return fmt.Errorf("failed to register %s handlers: %w", m.namespace, err)
		}
		s.logger.Info("Registered handlers",
			zap.String("namespace", m.namespace),
			zap.Int("endpoints", len(routes)))
	}

	// SSE endpoint for tracking events (uses dedicated SSE auth middleware)
	s.mux.Handle("/api/v1/stream/tracking", s.authMiddleware.RequireSSEAuth(http.HandlerFunc(s.deps.Broadcaster.HandleSSE)))

	return nil
}

// setupMiddleware applies middleware to all routes
func (s *Server) setupMiddleware() {
	chain := []middleware.Middleware{
		middleware.RequestID(),
		middleware.Recovery(s.logger),
	}
	if s.config.RateLimit > 0 {
		chain = append(chain, middleware.RateLimit(s.logger, s.config.RateLimit, s.config.RateBurst))
	}
	chain = append(chain,
		s.deps.Metrics.Middleware,
		middleware.ErrorAdapter(s.logger),
		middleware.CORS(),
		middleware.Logging(s.logger, s.config.HealthPath, "/metrics"),
	)

	s.httpServer.Handler = middleware.Chain(chain...)(s.mux)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		_ = s.Shutdown()
		return err
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	// Close SSE clients first so Shutdown does not wait on open streams
	s.deps.Broadcaster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

type healthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]healthCheck{}
	status, code := "healthy", http.StatusOK

	if s.deps.Redis != nil {
		if err := s.deps.Redis.HealthCheck(r.Context()); err != nil {
			s.logger.Error("Redis health check failed", zap.Error(err))
			checks["redis"] = healthCheck{Status: "down", Error: err.Error()}
			status, code = "unhealthy", http.StatusServiceUnavailable
		} else {
			checks["redis"] = healthCheck{Status: "up"}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"checks":      checks,
		"sse_clients": s.deps.Broadcaster.GetClientCount(),
	})
}
