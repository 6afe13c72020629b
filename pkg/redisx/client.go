package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/convoy/pkg/logger"
)

// ErrNotFound is returned by GetJSON when the key does not exist
var ErrNotFound = errors.New("redisx: key not found")

// Options configures a Client. URL is required; zero values keep the
// go-redis defaults.
type Options struct {
	URL string
	// KeyPrefix namespaces every key built with Key
	KeyPrefix   string
	PoolSize    int
	DialTimeout time.Duration
}

// Client wraps redis.Client with key namespacing and logging
type Client struct {
	*redis.Client
	prefix string
	logger *logger.Logger
}

// NewClient connects to Redis and verifies the connection with a ping
func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}

	if log == nil {
		log = logger.GetGlobalLogger()
	}

	redisOptions, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.PoolSize > 0 {
		redisOptions.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		redisOptions.DialTimeout = opts.DialTimeout
	}

	client := &Client{
		Client: redis.NewClient(redisOptions),
		prefix: strings.TrimSuffix(opts.KeyPrefix, ":"),
		logger: log.WithComponent("redisx"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client.logger.Info("Redis client connected",
		zap.String("addr", redisOptions.Addr),
		zap.Int("db", redisOptions.DB),
		zap.String("key_prefix", client.prefix),
	)

	return client, nil
}

// Key joins parts with ':' under the client's prefix
func (c *Client) Key(parts ...string) string {
	return JoinKey(c.prefix, parts...)
}

// JoinKey joins parts with ':' under prefix. An empty prefix adds nothing.
func JoinKey(prefix string, parts ...string) string {
	if prefix == "" {
		return strings.Join(parts, ":")
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.Client.Close()
}

// HealthCheck pings Redis and logs pool usage when it fails
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.Ping(ctx).Err()
	duration := time.Since(start)

	if err != nil {
		stats := c.PoolStats()
		c.logger.Error("Redis health check failed",
			zap.Error(err),
			zap.Duration("duration", duration),
			zap.Uint32("total_conns", stats.TotalConns),
			zap.Uint32("timeouts", stats.Timeouts),
		)
		return err
	}

	c.logger.Debug("Redis health check passed", zap.Duration("duration", duration))
	return nil
}

// GetJSON loads the JSON stored under key into dest. A missing key yields
// ErrNotFound.
func GetJSON(ctx context.Context, cmd redis.Cmdable, key string, dest any) error {
	data, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
