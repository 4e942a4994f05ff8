package limiter

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/config"
	"gatekeeper/internal/store"
)

//go:embed sliding_window.lua
var slidingWindowScript string

const keyPrefix = "rate_limit:"

// storeTimeout bounds every store round trip so a slow Redis degrades into
// fail-open instead of caller-visible blocking.
const storeTimeout = 5 * time.Second

// RedisLimiter checks sliding windows against the shared store so every
// service instance counts against the same windows. Construction never
// touches the network; the script is loaded lazily and cached by SHA.
type RedisLimiter struct {
	store    *store.Client
	defaults Params

	mu        sync.Mutex
	scriptSHA string
}

// NewRedisLimiter builds a limiter over an already-constructed store client.
func NewRedisLimiter(st *store.Client, cfg *config.RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		store: st,
		defaults: Params{
			Requests: cfg.Requests,
			Window:   cfg.Window,
			Burst:    cfg.Burst,
		},
	}
}

// Allow checks the identifier against the configured default window.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) Decision {
	return l.AllowWith(ctx, identifier, l.defaults)
}

// AllowWith checks the identifier against explicit window parameters. Store
// failures fail open: the request is allowed, the error is annotated on the
// decision and logged, and nothing propagates to the caller.
func (l *RedisLimiter) AllowWith(ctx context.Context, identifier string, p Params) Decision {
	now := time.Now()

	decision, err := l.allow(ctx, identifier, p, now)
	if err != nil {
		log.Printf("Rate limit check failed for %s: %v", identifier, err)
		return failOpen(p, now, err)
	}
	return decision
}

func (l *RedisLimiter) allow(ctx context.Context, identifier string, p Params, now time.Time) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	sha, err := l.ensureScript(ctx)
	if err != nil {
		return Decision{}, err
	}

	nowSec := float64(now.UnixNano()) / 1e9
	windowSec := int(p.Window / time.Second)

	// Member must be unique even for concurrent calls in the same
	// millisecond; the timestamp alone is not enough.
	member := fmt.Sprintf("%.6f:%s", nowSec, uuid.NewString())

	args := []interface{}{windowSec, p.Requests, nowSec, p.Burst, member}
	key := keyPrefix + identifier

	result, err := l.store.Redis().EvalSha(ctx, sha, []string{key}, args...).Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		// The store evicted its script cache; reload transparently.
		l.mu.Lock()
		l.scriptSHA = ""
		l.mu.Unlock()

		if sha, err = l.ensureScript(ctx); err != nil {
			return Decision{}, err
		}
		result, err = l.store.Redis().EvalSha(ctx, sha, []string{key}, args...).Result()
	}
	if err != nil {
		return Decision{}, err
	}

	return parseDecision(result, p)
}

// ensureScript loads the Lua script once and caches its SHA.
func (l *RedisLimiter) ensureScript(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scriptSHA != "" {
		return l.scriptSHA, nil
	}

	sha, err := l.store.Redis().ScriptLoad(ctx, slidingWindowScript).Result()
	if err != nil {
		return "", fmt.Errorf("failed to load rate limit script: %w", err)
	}
	l.scriptSHA = sha
	return sha, nil
}

// Preload loads the script eagerly so the first admission check does not
// pay the load round trip. Optional; ensureScript recovers lazily anyway.
func (l *RedisLimiter) Preload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	_, err := l.ensureScript(ctx)
	return err
}

// Reset deletes the identifier's window. Used for administrative unblocking.
func (l *RedisLimiter) Reset(ctx context.Context, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := l.store.Redis().Del(ctx, keyPrefix+identifier).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for %s: %w", identifier, err)
	}
	log.Printf("Rate limit reset for %s", identifier)
	return nil
}

// Stats reports the identifier's current count and window bounds without
// mutating the window.
func (l *RedisLimiter) Stats(ctx context.Context, identifier string) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	key := keyPrefix + identifier
	rdb := l.store.Redis()

	count, err := rdb.ZCard(ctx, key).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get rate limit stats for %s: %w", identifier, err)
	}

	oldest, err := rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get rate limit stats for %s: %w", identifier, err)
	}
	newest, err := rdb.ZRangeWithScores(ctx, key, -1, -1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get rate limit stats for %s: %w", identifier, err)
	}

	stats := Stats{CurrentCount: count}
	if len(oldest) > 0 {
		start := oldest[0].Score
		end := start + l.defaults.Window.Seconds()
		stats.Oldest = &start
		stats.WindowStart = &start
		stats.WindowEnd = &end
	}
	if len(newest) > 0 {
		last := newest[0].Score
		stats.Newest = &last
	}
	return stats, nil
}

// parseDecision unpacks the script reply:
// {allowed, current_count, limit, reset_time (string), remaining}.
func parseDecision(result interface{}, p Params) (Decision, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 5 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", result)
	}

	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	limit := toInt(values[2], p.Requests)
	reset := toFloat(values[3])
	remaining := toInt(values[4], 0)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:      allowed == 1,
		CurrentCount: count,
		Limit:        limit,
		ResetTime:    reset,
		Remaining:    remaining,
	}, nil
}

// failOpen is the availability-over-strictness default when the store is
// unreachable: allow, report a full window, annotate the error.
func failOpen(p Params, now time.Time, err error) Decision {
	return Decision{
		Allowed:   true,
		Limit:     p.Requests,
		ResetTime: float64(now.UnixNano())/1e9 + p.Window.Seconds(),
		Remaining: p.Requests,
		Err:       err,
	}
}

func toInt(v interface{}, fallback int) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return fallback
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
