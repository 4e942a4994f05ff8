package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/config"
)

// Client owns the process-wide pooled connection to the shared counter
// store. It is constructed explicitly and passed by reference to the
// components that need it; there is no hidden singleton, so tests can build
// a fresh instance per case.
type Client struct {
	rdb *redis.Client
}

// New builds the pooled client from connection parameters. It does not touch
// the network; call Ping to verify reachability at startup.
func New(cfg *config.RedisConfig) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.DialTimeout = cfg.SocketConnectTimeout
	opts.ReadTimeout = cfg.SocketTimeout
	opts.WriteTimeout = cfg.SocketTimeout

	return &Client{rdb: redis.NewClient(opts)}, nil
}

// Ping verifies the store is reachable within the context's deadline.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Redis exposes the underlying client for script execution and sorted-set
// operations. All round trips share the same bounded pool.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("failed to close redis pool: %w", err)
	}
	log.Println("Redis connection pool closed")
	return nil
}

// PoolInfo reports connection pool state for the health surface.
type PoolInfo struct {
	TotalConnections int `json:"total_connections"`
	IdleConnections  int `json:"idle_connections"`
	MaxConnections   int `json:"max_connections"`
}

// HealthStatus is the component health report for the store. Status is
// "healthy" or "error"; a store error degrades the service, it never takes
// it down.
type HealthStatus struct {
	Status     string   `json:"status"`
	PingTimeMs float64  `json:"ping_time_ms,omitempty"`
	Message    string   `json:"message,omitempty"`
	Pool       PoolInfo `json:"pool_info"`
}

// HealthCheck pings the store and reports round-trip latency plus pool
// statistics. Errors are folded into the report, not returned.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	stats := c.rdb.PoolStats()
	pool := PoolInfo{
		TotalConnections: int(stats.TotalConns),
		IdleConnections:  int(stats.IdleConns),
		MaxConnections:   c.rdb.Options().PoolSize,
	}

	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return HealthStatus{
			Status:  "error",
			Message: err.Error(),
			Pool:    pool,
		}
	}

	return HealthStatus{
		Status:     "healthy",
		PingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Pool:       pool,
	}
}
