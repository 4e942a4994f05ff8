package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}

	if cfg.RateLimit.Requests != 100 || cfg.RateLimit.Window != 60*time.Second {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.WebSocket.MaxMessageSize != 16*1024 {
		t.Errorf("expected 16KB message ceiling, got %d", cfg.WebSocket.MaxMessageSize)
	}
	if cfg.RateLimit.Backend != "redis" {
		t.Errorf("expected redis backend by default, got %q", cfg.RateLimit.Backend)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"empty redis url", func(c *Config) { c.Redis.URL = "" }},
		{"zero redis pool", func(c *Config) { c.Redis.MaxConnections = 0 }},
		{"unknown backend", func(c *Config) { c.RateLimit.Backend = "etcd" }},
		{"zero requests", func(c *Config) { c.RateLimit.Requests = 0 }},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"negative burst", func(c *Config) { c.RateLimit.Burst = -1 }},
		{"zero message size", func(c *Config) { c.WebSocket.MaxMessageSize = 0 }},
		{"ping not under pong", func(c *Config) { c.WebSocket.PingInterval = c.WebSocket.PongTimeout }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero health timeout", func(c *Config) { c.Health.CheckTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GATEKEEPER_HTTP_HOST", "0.0.0.0")
	t.Setenv("GATEKEEPER_HTTP_PORT", "9000")
	t.Setenv("GATEKEEPER_REDIS_URL", "redis://cache.internal:6379/1")
	t.Setenv("GATEKEEPER_RATE_LIMIT_BACKEND", "memory")
	t.Setenv("GATEKEEPER_RATE_LIMIT_REQUESTS", "250")
	t.Setenv("GATEKEEPER_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("GATEKEEPER_WEBSOCKET_MAX_MESSAGE_SIZE", "32768")

	cfg := LoadFromEnv()

	if cfg.HTTP.Host != "0.0.0.0" || cfg.HTTP.Port != 9000 {
		t.Errorf("HTTP overrides not applied: %+v", cfg.HTTP)
	}
	if cfg.Redis.URL != "redis://cache.internal:6379/1" {
		t.Errorf("redis override not applied: %q", cfg.Redis.URL)
	}
	if cfg.RateLimit.Backend != "memory" || cfg.RateLimit.Requests != 250 || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("rate limit overrides not applied: %+v", cfg.RateLimit)
	}
	if cfg.WebSocket.MaxMessageSize != 32768 {
		t.Errorf("websocket override not applied: %d", cfg.WebSocket.MaxMessageSize)
	}
}

func TestLoadFromEnvIgnoresUnparseable(t *testing.T) {
	t.Setenv("GATEKEEPER_HTTP_PORT", "not-a-number")
	t.Setenv("GATEKEEPER_RATE_LIMIT_WINDOW", "soon")

	cfg := LoadFromEnv()
	defaults := DefaultConfig()

	if cfg.HTTP.Port != defaults.HTTP.Port {
		t.Errorf("bad port should fall back to default, got %d", cfg.HTTP.Port)
	}
	if cfg.RateLimit.Window != defaults.RateLimit.Window {
		t.Errorf("bad window should fall back to default, got %v", cfg.RateLimit.Window)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"http": {"host": "0.0.0.0", "port": 8080, "read_timeout": "15s"},
		"rate_limit": {"requests": 500, "window": "120s"},
		"websocket": {"max_message_size": 8192, "ping_interval": "10s"}
	}`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTP.Host != "0.0.0.0" || cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP values not applied: %+v", cfg.HTTP)
	}
	if cfg.HTTP.ReadTimeout != 15*time.Second {
		t.Errorf("duration string not parsed: %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.RateLimit.Requests != 500 || cfg.RateLimit.Window != 120*time.Second {
		t.Errorf("rate limit values not applied: %+v", cfg.RateLimit)
	}
	if cfg.WebSocket.MaxMessageSize != 8192 {
		t.Errorf("websocket value not applied: %d", cfg.WebSocket.MaxMessageSize)
	}

	// Untouched sections keep their defaults.
	if cfg.Database.Path != DefaultConfig().Database.Path {
		t.Errorf("database defaults lost: %+v", cfg.Database)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Error("expected an error for a missing file")
	}

	badJSON := writeConfigFile(t, `{not json`)
	if _, err := LoadFromFile(badJSON); err == nil {
		t.Error("expected an error for malformed JSON")
	}

	invalid := writeConfigFile(t, `{"http": {"port": -1}}`)
	if _, err := LoadFromFile(invalid); err != nil {
		// Port <= 0 in the file is ignored (kept at default), so this loads.
		t.Errorf("non-positive port should fall back to default, got error: %v", err)
	}

	rejected := writeConfigFile(t, `{"rate_limit": {"backend": "etcd"}}`)
	if _, err := LoadFromFile(rejected); err == nil {
		t.Error("expected validation to reject an unknown backend")
	}
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("GATEKEEPER_HTTP_PORT", "9000")

	// File wins over environment.
	path := writeConfigFile(t, `{"http": {"port": 8080}}`)
	cfg := LoadConfigWithPrecedence(path)
	if cfg.HTTP.Port != 8080 {
		t.Errorf("file should take precedence, got port %d", cfg.HTTP.Port)
	}

	// No file: environment wins over defaults.
	cfg = LoadConfigWithPrecedence("")
	if cfg.HTTP.Port != 9000 {
		t.Errorf("environment should apply without a file, got port %d", cfg.HTTP.Port)
	}

	// Broken file: fall back to environment.
	cfg = LoadConfigWithPrecedence("/nonexistent/config.json")
	if cfg.HTTP.Port != 9000 {
		t.Errorf("missing file should fall back to environment, got port %d", cfg.HTTP.Port)
	}
}
