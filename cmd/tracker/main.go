package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/api"
	"github.com/danghamo/convoy/internal/api/handlers"
	"github.com/danghamo/convoy/internal/backend"
	"github.com/danghamo/convoy/internal/domain/auth"
	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/session"
	"github.com/danghamo/convoy/internal/events"
	"github.com/danghamo/convoy/internal/location"
	"github.com/danghamo/convoy/internal/metrics"
	"github.com/danghamo/convoy/internal/routing"
	"github.com/danghamo/convoy/internal/tracker"
	"github.com/danghamo/convoy/pkg/config"
	"github.com/danghamo/convoy/pkg/logger"
	"github.com/danghamo/convoy/pkg/redisx"
	"github.com/danghamo/convoy/pkg/sse"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("c", "", "path to config file")
	flag.Parse()

	// Initialize configuration and logger
	cfg, log, err := config.Initialize(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Ensure logger is flushed on exit
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting convoy tracker",
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Tracker stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info("Tracker gracefully stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is optional; without it sessions stay in memory and events
	// travel over an in-process channel
	var (
		redisClient *redisx.Client
		repo        session.Repository = session.NewMemoryRepository()
		busCfg                         = events.BusConfig{
			ConsumerGroup: cfg.Redis.Streams.ConsumerGroup,
			MaxLen:        cfg.Redis.Streams.MaxLen,
		}
		transport = "gochannel"
	)
	if cfg.Redis.RedisEnabled() {
		c, err := redisx.NewClient(redisx.Options{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			PoolSize:  cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis client: %w", err)
		}
		defer c.Close()

		redisClient = c
		repo = session.NewRedisRepository(c, cfg.Redis.SessionTTL)
		busCfg.Redis = c.Client
		transport = "redis-streams"
	}

	bus, err := events.NewBus(busCfg, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}

	broadcaster := sse.NewSSEBroadcaster(log)
	if err := bus.AddHandlers(events.NewSSEEventHandler(broadcaster, log).Handlers()...); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	busErr := make(chan error, 1)
	go func() {
		busErr <- bus.Run(ctx)
	}()

	locations, devices, err := newLocationSource(cfg.Tracker)
	if err != nil {
		return fmt.Errorf("failed to create location source: %w", err)
	}

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:          cfg.Backend.BaseURL,
		Token:            cfg.Backend.Token,
		Timeout:          cfg.Backend.Timeout,
		RateLimit:        cfg.Backend.RateLimit,
		Burst:            cfg.Backend.Burst,
		UploadAttempts:   cfg.Backend.UploadAttempts,
		UploadRetryDelay: cfg.Backend.UploadRetryDelay,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	collector, err := newCollector(cfg.Server.MetricsEnabled)
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}

	deps := tracker.Dependencies{
		Locations:  locations,
		Reporter:   backendClient,
		Repository: repo,
		Shipments:  backendClient,
		Publisher:  bus,
		Metrics:    collector,
	}
	apiDeps := api.Dependencies{
		Shipments:   backendClient,
		Drivers:     backendClient,
		Broadcaster: broadcaster,
		Metrics:     collector,
	}

	// Route planning needs a provider key; without one sessions run
	// without an ETA
	if cfg.Routing.APIKey != "" {
		routes, err := routing.NewClient(routing.Config{
			BaseURL: cfg.Routing.BaseURL,
			APIKey:  cfg.Routing.APIKey,
			Timeout: cfg.Routing.Timeout,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create routing client: %w", err)
		}
		deps.Routes = routes
		apiDeps.Routes = routes
	} else {
		log.Warn("Routing API key not set, ETA disabled")
	}

	manager, err := tracker.NewManager(tracker.ManagerConfig{
		Interval:         cfg.Tracker.Interval,
		SampleTimeout:    cfg.Tracker.SampleTimeout,
		Fallback:         geo.Coordinate{Latitude: cfg.Tracker.FallbackLatitude, Longitude: cfg.Tracker.FallbackLongitude},
		RadiusMeters:     cfg.Tracker.ArrivalRadiusMeters,
		ExitMarginMeters: cfg.Tracker.ExitMarginMeters,
	}, deps, log)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	if cfg.Auth.OperatorPasswordHash == "" {
		log.Warn("Operator password hash not set, logins will be rejected")
	}
	operator, err := auth.NewOperator(cfg.Auth.OperatorUsername, cfg.Auth.OperatorPasswordHash)
	if err != nil {
		return fmt.Errorf("failed to configure operator: %w", err)
	}

	apiDeps.Sessions = manager
	apiDeps.Operator = operator
	apiDeps.JWT = auth.NewJWTService(cfg.Auth.JWTSecret, "convoy-tracker", cfg.Auth.JWTExpiration)
	apiDeps.Info = handlers.NewServerHandler(version, cfg.Tracker.Source, cfg.Tracker.Interval, transport, manager.ActiveSessions)
	if devices != nil {
		apiDeps.Devices = devices
	}
	if redisClient != nil {
		apiDeps.Redis = redisClient
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Port:         cfg.Server.Port,
		Host:         cfg.Server.Host,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		HealthPath:   cfg.Server.HealthCheckPath,
	}, apiDeps, log)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	go func() {
		select {
		case <-quit:
			log.Info("Shutting down tracker...")
		case err := <-busErr:
			if err != nil {
				log.Error("Event bus stopped", zap.Error(err))
			}
		}

		// Sessions stop first so their final events reach the bus
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := manager.Close(closeCtx); err != nil {
			log.Error("Failed to stop sessions", zap.Error(err))
		}
		stopServer()
	}()

	serveErr := apiServer.Start(serverCtx)

	if err := bus.Close(); err != nil {
		log.Error("Failed to close event bus", zap.Error(err))
	}
	return serveErr
}

func newLocationSource(cfg config.TrackerConfig) (location.Source, *location.DeviceRegistry, error) {
	switch cfg.Source {
	case "replay":
		waypoints := make([]geo.Coordinate, 0, len(cfg.Waypoints))
		for _, wp := range cfg.Waypoints {
			waypoints = append(waypoints, geo.Coordinate{Latitude: wp[0], Longitude: wp[1]})
		}
		src := location.ReplaySource{Waypoints: waypoints, Loop: cfg.LoopReplay}
		// Surface bad waypoints at startup instead of on the first session
		if _, _, err := src.ProviderFor(""); err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	case "device":
		registry := location.NewDeviceRegistry(cfg.MaxFixAge)
		return registry, registry, nil
	default:
		return location.StaticSource{Provider: location.StaticProvider{
			Coordinate: geo.Coordinate{Latitude: cfg.FallbackLatitude, Longitude: cfg.FallbackLongitude},
		}}, nil, nil
	}
}

func newCollector(enabled bool) (*metrics.Collector, error) {
	if !enabled {
		return nil, nil
	}
	return metrics.NewCollector(prometheus.DefaultRegisterer)
}
