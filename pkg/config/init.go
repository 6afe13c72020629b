package config

import (
	"fmt"

	"github.com/danghamo/convoy/pkg/logger"
)

// Initialize loads configuration and sets up global logger.
// An empty path searches the default locations.
func Initialize(path string) (*Config, *logger.Logger, error) {
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg, err = Load()
	} else {
		cfg, err = LoadFile(path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerCfg := logger.Config{
		Level:       logger.ParseLevel(cfg.Log.Level),
		Environment: cfg.Log.Environment,
		Encoding:    cfg.Log.Encoding,
		FilePath:    cfg.Log.FilePath,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	}

	appLogger, err := logger.New(loggerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.SetGlobalLogger(appLogger)

	fields := map[string]interface{}{
		"environment":     cfg.Server.Environment,
		"server_port":     cfg.Server.Port,
		"redis_enabled":   cfg.Redis.RedisEnabled(),
		"backend_url":     cfg.Backend.BaseURL,
		"tracker_source":  cfg.Tracker.Source,
		"report_interval": cfg.Tracker.Interval.String(),
		"log_level":       cfg.Log.Level,
	}
	appLogger.WithFields(fields).Info("Configuration and logger initialized successfully")

	return cfg, appLogger, nil
}
