package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings coordinator. Components receive their
// section by value at construction time; nothing reads the environment after
// startup.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	Redis     *RedisConfig     `json:"redis"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Database  *DatabaseConfig  `json:"database"`
	Health    *HealthConfig    `json:"health"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// RedisConfig holds connection parameters for the shared counter store.
type RedisConfig struct {
	URL                  string        `json:"url"`
	MaxConnections       int           `json:"max_connections"`
	SocketTimeout        time.Duration `json:"socket_timeout"`
	SocketConnectTimeout time.Duration `json:"socket_connect_timeout"`
}

// RateLimitConfig carries the default sliding-window parameters. Backend
// selects "redis" (shared across instances) or "memory" (single process).
type RateLimitConfig struct {
	Backend  string        `json:"backend"`
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
	Burst    int           `json:"burst"`
}

type WebSocketConfig struct {
	MaxMessageSize int           `json:"max_message_size"`
	PingInterval   time.Duration `json:"ping_interval"`
	PongTimeout    time.Duration `json:"pong_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
}

type DatabaseConfig struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

type HealthConfig struct {
	CheckTimeout time.Duration `json:"check_timeout"`
}

// DefaultConfig mirrors the documented defaults: 100 requests per 60s window
// with burst 20, 16KB message ceiling, 20s ping interval with 60s pong
// timeout.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "127.0.0.1",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Redis: &RedisConfig{
			URL:                  "redis://localhost:6379/0",
			MaxConnections:       50,
			SocketTimeout:        5 * time.Second,
			SocketConnectTimeout: 5 * time.Second,
		},
		RateLimit: &RateLimitConfig{
			Backend:  "redis",
			Requests: 100,
			Window:   60 * time.Second,
			Burst:    20,
		},
		WebSocket: &WebSocketConfig{
			MaxMessageSize: 16 * 1024,
			PingInterval:   20 * time.Second,
			PongTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
		},
		Database: &DatabaseConfig{
			Path:            "./gatekeeper.db",
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Second,
		},
		Health: &HealthConfig{
			CheckTimeout: 100 * time.Millisecond,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL cannot be empty")
	}
	if c.Redis.MaxConnections <= 0 {
		return fmt.Errorf("redis max connections must be positive")
	}
	if c.Redis.SocketTimeout <= 0 || c.Redis.SocketConnectTimeout <= 0 {
		return fmt.Errorf("redis socket timeouts must be positive")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.Backend != "redis" && c.RateLimit.Backend != "memory" {
		return fmt.Errorf("rate limit backend must be \"redis\" or \"memory\"")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate limit requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit burst cannot be negative")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
		return fmt.Errorf("WebSocket liveness intervals must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongTimeout {
		return fmt.Errorf("WebSocket ping interval must be shorter than pong timeout")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.Health == nil {
		return fmt.Errorf("health configuration is required")
	}
	if c.Health.CheckTimeout <= 0 {
		return fmt.Errorf("health check timeout must be positive")
	}

	return nil
}

// LoadFromEnv overrides defaults with GATEKEEPER_* environment variables.
// Unparseable values fall back to the default rather than failing startup.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if host := os.Getenv("GATEKEEPER_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("GATEKEEPER_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if readTimeout := os.Getenv("GATEKEEPER_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}
	if writeTimeout := os.Getenv("GATEKEEPER_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if url := os.Getenv("GATEKEEPER_REDIS_URL"); url != "" {
		config.Redis.URL = url
	}
	if maxConns := os.Getenv("GATEKEEPER_REDIS_MAX_CONNECTIONS"); maxConns != "" {
		if n, err := strconv.Atoi(maxConns); err == nil {
			config.Redis.MaxConnections = n
		}
	}
	if socketTimeout := os.Getenv("GATEKEEPER_REDIS_SOCKET_TIMEOUT"); socketTimeout != "" {
		if timeout, err := time.ParseDuration(socketTimeout); err == nil {
			config.Redis.SocketTimeout = timeout
		}
	}
	if connectTimeout := os.Getenv("GATEKEEPER_REDIS_CONNECT_TIMEOUT"); connectTimeout != "" {
		if timeout, err := time.ParseDuration(connectTimeout); err == nil {
			config.Redis.SocketConnectTimeout = timeout
		}
	}

	if backend := os.Getenv("GATEKEEPER_RATE_LIMIT_BACKEND"); backend != "" {
		config.RateLimit.Backend = backend
	}
	if requests := os.Getenv("GATEKEEPER_RATE_LIMIT_REQUESTS"); requests != "" {
		if n, err := strconv.Atoi(requests); err == nil {
			config.RateLimit.Requests = n
		}
	}
	if window := os.Getenv("GATEKEEPER_RATE_LIMIT_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.RateLimit.Window = d
		}
	}
	if burst := os.Getenv("GATEKEEPER_RATE_LIMIT_BURST"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil {
			config.RateLimit.Burst = n
		}
	}

	if maxSize := os.Getenv("GATEKEEPER_WEBSOCKET_MAX_MESSAGE_SIZE"); maxSize != "" {
		if n, err := strconv.Atoi(maxSize); err == nil {
			config.WebSocket.MaxMessageSize = n
		}
	}
	if pingInterval := os.Getenv("GATEKEEPER_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if d, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = d
		}
	}
	if pongTimeout := os.Getenv("GATEKEEPER_WEBSOCKET_PONG_TIMEOUT"); pongTimeout != "" {
		if d, err := time.ParseDuration(pongTimeout); err == nil {
			config.WebSocket.PongTimeout = d
		}
	}
	if writeTimeout := os.Getenv("GATEKEEPER_WEBSOCKET_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			config.WebSocket.WriteTimeout = d
		}
	}
	if bufferSize := os.Getenv("GATEKEEPER_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if n, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = n
		}
	}

	if dbPath := os.Getenv("GATEKEEPER_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if maxConns := os.Getenv("GATEKEEPER_DATABASE_MAX_CONNECTIONS"); maxConns != "" {
		if n, err := strconv.Atoi(maxConns); err == nil {
			config.Database.MaxConnections = n
		}
	}

	if checkTimeout := os.Getenv("GATEKEEPER_HEALTH_CHECK_TIMEOUT"); checkTimeout != "" {
		if d, err := time.ParseDuration(checkTimeout); err == nil {
			config.Health.CheckTimeout = d
		}
	}

	return config
}

// ConfigFile is the JSON representation; durations are strings so files can
// say "60s" instead of nanosecond counts.
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	Redis     *RedisConfigFile     `json:"redis"`
	RateLimit *RateLimitConfigFile `json:"rate_limit"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Database  *DatabaseConfigFile  `json:"database"`
	Health    *HealthConfigFile    `json:"health"`
}

type HTTPConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type RedisConfigFile struct {
	URL                  string `json:"url"`
	MaxConnections       int    `json:"max_connections"`
	SocketTimeout        string `json:"socket_timeout"`
	SocketConnectTimeout string `json:"socket_connect_timeout"`
}

type RateLimitConfigFile struct {
	Backend  string `json:"backend"`
	Requests int    `json:"requests"`
	Window   string `json:"window"`
	Burst    int    `json:"burst"`
}

type WebSocketConfigFile struct {
	MaxMessageSize int    `json:"max_message_size"`
	PingInterval   string `json:"ping_interval"`
	PongTimeout    string `json:"pong_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
}

type DatabaseConfigFile struct {
	Path            string `json:"path"`
	MaxConnections  int    `json:"max_connections"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
}

type HealthConfigFile struct {
	CheckTimeout string `json:"check_timeout"`
}

// LoadFromFile reads a JSON configuration file on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.HTTP != nil {
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		applyDuration(&config.HTTP.ReadTimeout, configFile.HTTP.ReadTimeout)
		applyDuration(&config.HTTP.WriteTimeout, configFile.HTTP.WriteTimeout)
	}

	if configFile.Redis != nil {
		if configFile.Redis.URL != "" {
			config.Redis.URL = configFile.Redis.URL
		}
		if configFile.Redis.MaxConnections > 0 {
			config.Redis.MaxConnections = configFile.Redis.MaxConnections
		}
		applyDuration(&config.Redis.SocketTimeout, configFile.Redis.SocketTimeout)
		applyDuration(&config.Redis.SocketConnectTimeout, configFile.Redis.SocketConnectTimeout)
	}

	if configFile.RateLimit != nil {
		if configFile.RateLimit.Backend != "" {
			config.RateLimit.Backend = configFile.RateLimit.Backend
		}
		if configFile.RateLimit.Requests > 0 {
			config.RateLimit.Requests = configFile.RateLimit.Requests
		}
		if configFile.RateLimit.Burst > 0 {
			config.RateLimit.Burst = configFile.RateLimit.Burst
		}
		applyDuration(&config.RateLimit.Window, configFile.RateLimit.Window)
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = configFile.WebSocket.MaxMessageSize
		}
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		applyDuration(&config.WebSocket.PingInterval, configFile.WebSocket.PingInterval)
		applyDuration(&config.WebSocket.PongTimeout, configFile.WebSocket.PongTimeout)
		applyDuration(&config.WebSocket.WriteTimeout, configFile.WebSocket.WriteTimeout)
	}

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.MaxConnections > 0 {
			config.Database.MaxConnections = configFile.Database.MaxConnections
		}
		applyDuration(&config.Database.ConnMaxLifetime, configFile.Database.ConnMaxLifetime)
	}

	if configFile.Health != nil {
		applyDuration(&config.Health.CheckTimeout, configFile.Health.CheckTimeout)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. A missing or broken file is ignored so environment-only
// deployments keep working.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
