package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Backend BackendConfig `mapstructure:"backend"`
	Routing RoutingConfig `mapstructure:"routing"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds control API configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Environment     string        `mapstructure:"environment"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled"`
	HealthCheckPath string        `mapstructure:"health_check_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	// RateLimit is control API requests per second per client IP; zero
	// disables limiting
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// RedisConfig holds Redis-related configuration. An empty URL keeps
// sessions in memory and events on an in-process channel.
type RedisConfig struct {
	URL       string             `mapstructure:"url"`
	KeyPrefix string             `mapstructure:"key_prefix"`
	PoolSize  int                `mapstructure:"pool_size"`
	Streams   RedisStreamsConfig `mapstructure:"streams"`
	// SessionTTL bounds how long a stopped session snapshot is kept
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// RedisStreamsConfig holds Redis Streams specific configuration
type RedisStreamsConfig struct {
	MaxLen        int64  `mapstructure:"max_len"`
	ConsumerGroup string `mapstructure:"consumer_group"`
}

// TrackerConfig drives the location reporting loop
type TrackerConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	SampleTimeout       time.Duration `mapstructure:"sample_timeout"`
	FallbackLatitude    float64       `mapstructure:"fallback_latitude"`
	FallbackLongitude   float64       `mapstructure:"fallback_longitude"`
	ArrivalRadiusMeters float64       `mapstructure:"arrival_radius_meters"`
	ExitMarginMeters    float64       `mapstructure:"exit_margin_meters"`
	// Source selects the location provider: "static", "replay" or "device"
	Source     string      `mapstructure:"source"`
	Waypoints  [][]float64 `mapstructure:"waypoints"`
	LoopReplay bool        `mapstructure:"loop_replay"`
	// MaxFixAge is how long a pushed device fix stays usable
	MaxFixAge time.Duration `mapstructure:"max_fix_age"`
}

// BackendConfig points at the freight marketplace API
type BackendConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Token            string        `mapstructure:"token"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	Burst            int           `mapstructure:"burst"`
	UploadAttempts   int           `mapstructure:"upload_attempts"`
	UploadRetryDelay time.Duration `mapstructure:"upload_retry_delay"`
}

// RoutingConfig points at the third-party routing/traffic provider
type RoutingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds control API authentication configuration
type AuthConfig struct {
	JWTSecret            string        `mapstructure:"jwt_secret"`
	JWTExpiration        time.Duration `mapstructure:"jwt_expiration"`
	OperatorUsername     string        `mapstructure:"operator_username"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
	Encoding    string `mapstructure:"encoding"`
	FilePath    string `mapstructure:"file_path"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	return load(viper.New(), ".", "./configs", "/etc/convoy")
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper, searchPaths ...string) (*Config, error) {
	setDefaults(v)

	if len(searchPaths) > 0 {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, continue with env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.health_check_path", "/health")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "convoy")
	v.SetDefault("redis.pool_size", 0)
	v.SetDefault("redis.session_ttl", "24h")
	v.SetDefault("redis.streams.max_len", 10000)
	v.SetDefault("redis.streams.consumer_group", "convoy-tracker")

	// The mobile client polled every 10s and treated 500m as "arrived"
	v.SetDefault("tracker.interval", "10s")
	v.SetDefault("tracker.sample_timeout", "5s")
	v.SetDefault("tracker.fallback_latitude", 17.3850)
	v.SetDefault("tracker.fallback_longitude", 78.4867)
	v.SetDefault("tracker.arrival_radius_meters", 500.0)
	v.SetDefault("tracker.exit_margin_meters", 0.0)
	v.SetDefault("tracker.source", "static")
	v.SetDefault("tracker.loop_replay", false)
	v.SetDefault("tracker.max_fix_age", "30s")

	v.SetDefault("backend.base_url", "http://localhost:3000/api")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("backend.rate_limit", 5.0)
	v.SetDefault("backend.burst", 10)
	v.SetDefault("backend.upload_attempts", 3)
	v.SetDefault("backend.upload_retry_delay", "1s")

	v.SetDefault("routing.base_url", "https://api.tomtom.com")
	v.SetDefault("routing.timeout", "10s")

	v.SetDefault("auth.jwt_secret", "dev-jwt-secret-change-in-production")
	v.SetDefault("auth.jwt_expiration", "24h")
	v.SetDefault("auth.operator_username", "operator")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.max_age_days", 30)
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if cfg.Server.RateLimit < 0 || (cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1) {
		return fmt.Errorf("server rate limit cannot be negative and needs a burst of at least 1")
	}

	if cfg.Redis.PoolSize < 0 {
		return fmt.Errorf("redis pool size cannot be negative")
	}

	if cfg.Tracker.Interval < 100*time.Millisecond {
		return fmt.Errorf("tracker interval must be at least 100ms")
	}

	if cfg.Tracker.SampleTimeout <= 0 {
		return fmt.Errorf("tracker sample timeout must be positive")
	}

	if cfg.Tracker.FallbackLatitude < -90 || cfg.Tracker.FallbackLatitude > 90 {
		return fmt.Errorf("fallback latitude out of range: %f", cfg.Tracker.FallbackLatitude)
	}

	if cfg.Tracker.FallbackLongitude < -180 || cfg.Tracker.FallbackLongitude > 180 {
		return fmt.Errorf("fallback longitude out of range: %f", cfg.Tracker.FallbackLongitude)
	}

	if cfg.Tracker.ArrivalRadiusMeters <= 0 {
		return fmt.Errorf("arrival radius must be positive")
	}

	if cfg.Tracker.ExitMarginMeters < 0 {
		return fmt.Errorf("exit margin cannot be negative")
	}

	validSources := []string{"static", "replay", "device"}
	if !contains(validSources, cfg.Tracker.Source) {
		return fmt.Errorf("invalid tracker source: %s", cfg.Tracker.Source)
	}

	for i, wp := range cfg.Tracker.Waypoints {
		if len(wp) != 2 {
			return fmt.Errorf("waypoint %d must be [latitude, longitude]", i)
		}
	}

	if cfg.Tracker.Source == "replay" && len(cfg.Tracker.Waypoints) == 0 {
		return fmt.Errorf("replay source needs at least one waypoint")
	}

	if cfg.Tracker.Source == "device" && cfg.Tracker.MaxFixAge <= 0 {
		return fmt.Errorf("device source needs a positive max fix age")
	}

	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url cannot be empty")
	}

	if cfg.Backend.UploadAttempts < 1 {
		return fmt.Errorf("upload attempts must be at least 1")
	}

	if cfg.Backend.RateLimit <= 0 || cfg.Backend.Burst < 1 {
		return fmt.Errorf("backend rate limit and burst must be positive")
	}

	if len(cfg.Auth.JWTSecret) < 8 {
		return fmt.Errorf("JWT secret must be at least 8 characters long")
	}

	if cfg.Auth.JWTExpiration < time.Minute {
		return fmt.Errorf("JWT expiration must be at least 1 minute")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Log.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}

	validEncodings := []string{"json", "console"}
	if !contains(validEncodings, cfg.Log.Encoding) {
		return fmt.Errorf("invalid log encoding: %s", cfg.Log.Encoding)
	}

	return nil
}

// GetServerAddr returns the server address in host:port format
func (s *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction returns true if the environment is production
func (s *ServerConfig) IsProduction() bool {
	return strings.ToLower(s.Environment) == "production"
}

// RedisEnabled reports whether a Redis URL was configured
func (r *RedisConfig) RedisEnabled() bool {
	return r.URL != ""
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
