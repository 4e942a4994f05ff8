package store

import (
	"context"
	"testing"
	"time"

	"gatekeeper/internal/config"
)

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&config.RedisConfig{
		URL:                  "not-a-redis-url",
		MaxConnections:       10,
		SocketTimeout:        time.Second,
		SocketConnectTimeout: time.Second,
	})
	if err == nil {
		t.Error("expected an error for a malformed URL")
	}
}

func TestNew_DoesNotDial(t *testing.T) {
	// Construction must succeed even when the store is unreachable; only
	// Ping touches the network.
	c, err := New(&config.RedisConfig{
		URL:                  "redis://127.0.0.1:1/0",
		MaxConnections:       10,
		SocketTimeout:        200 * time.Millisecond,
		SocketConnectTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("construction should not dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Ping(ctx); err == nil {
		t.Error("ping against an unreachable store should fail")
	}
}

func TestHealthCheck_ReportsErrorStatus(t *testing.T) {
	c, err := New(&config.RedisConfig{
		URL:                  "redis://127.0.0.1:1/0",
		MaxConnections:       7,
		SocketTimeout:        200 * time.Millisecond,
		SocketConnectTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status := c.HealthCheck(ctx)

	if status.Status != "error" {
		t.Errorf("expected error status, got %q", status.Status)
	}
	if status.Message == "" {
		t.Error("expected the failure message to be folded into the report")
	}
	if status.Pool.MaxConnections != 7 {
		t.Errorf("expected pool size 7 in the report, got %d", status.Pool.MaxConnections)
	}
}
