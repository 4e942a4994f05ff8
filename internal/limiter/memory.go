package limiter

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/config"
)

// MemoryLimiter implements the same sliding-window semantics as
// RedisLimiter against process-local state. It backs single-process
// deployments (backend "memory") and gives tests deterministic window
// behavior without a live store.
//
// Windows are per-identifier slices of float-second timestamps, append-only
// within a window, trimmed on every check.
type MemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string][]float64
	defaults Params
	now      func() time.Time
}

// NewMemoryLimiter builds an in-process limiter with the configured default
// window.
func NewMemoryLimiter(cfg *config.RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string][]float64),
		defaults: Params{
			Requests: cfg.Requests,
			Window:   cfg.Window,
			Burst:    cfg.Burst,
		},
		now: time.Now,
	}
}

// Allow checks the identifier against the configured default window.
func (l *MemoryLimiter) Allow(ctx context.Context, identifier string) Decision {
	return l.AllowWith(ctx, identifier, l.defaults)
}

// AllowWith checks the identifier against explicit window parameters. The
// in-memory backend has no dependency to fail, so Err is never set.
func (l *MemoryLimiter) AllowWith(ctx context.Context, identifier string, p Params) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowSec := float64(l.now().UnixNano()) / 1e9
	windowSec := p.Window.Seconds()

	entries := trimWindow(l.windows[identifier], nowSec-windowSec)

	if len(entries) >= p.Requests {
		l.windows[identifier] = entries
		return Decision{
			Allowed:      false,
			CurrentCount: int64(len(entries)),
			Limit:        p.Requests,
			ResetTime:    entries[0] + windowSec,
			Remaining:    0,
		}
	}

	entries = append(entries, nowSec)
	l.windows[identifier] = entries

	return Decision{
		Allowed:      true,
		CurrentCount: int64(len(entries)),
		Limit:        p.Requests,
		ResetTime:    nowSec + windowSec,
		Remaining:    p.Requests - len(entries),
	}
}

// Reset deletes the identifier's window.
func (l *MemoryLimiter) Reset(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identifier)
	return nil
}

// Stats reports the identifier's window without mutating it.
func (l *MemoryLimiter) Stats(ctx context.Context, identifier string) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowSec := float64(l.now().UnixNano()) / 1e9
	entries := trimWindow(l.windows[identifier], nowSec-l.defaults.Window.Seconds())

	stats := Stats{CurrentCount: int64(len(entries))}
	if len(entries) > 0 {
		start := entries[0]
		end := start + l.defaults.Window.Seconds()
		last := entries[len(entries)-1]
		stats.Oldest = &start
		stats.WindowStart = &start
		stats.WindowEnd = &end
		stats.Newest = &last
	}
	return stats, nil
}

// Cleanup drops identifiers whose newest entry is older than maxIdle. Call
// periodically to keep memory bounded under identifier churn.
func (l *MemoryLimiter) Cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := float64(l.now().UnixNano())/1e9 - maxIdle.Seconds()
	for identifier, entries := range l.windows {
		if len(entries) == 0 || entries[len(entries)-1] < cutoff {
			delete(l.windows, identifier)
		}
	}
}

// trimWindow removes entries at or before the cutoff. Entries are appended
// in time order, so the suffix after the first survivor is the new window.
func trimWindow(entries []float64, cutoff float64) []float64 {
	i := 0
	for i < len(entries) && entries[i] <= cutoff {
		i++
	}
	if i == 0 {
		return entries
	}
	return append([]float64(nil), entries[i:]...)
}
