package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/metrics"
)

// RedisConfig configures a Redis fixed-window limiter.
type RedisConfig struct {
	// Redis client for coordination
	Redis redis.UniversalClient
	// Key is the Redis key prefix for this limiter
	Key string
	// Limit is the number of events allowed per window
	Limit int
	// Window is the window length (defaults to 1s)
	Window time.Duration
	// RedisTimeout bounds each Redis round trip (defaults to 500ms)
	RedisTimeout time.Duration
	// PollInterval is how often Wait retries a full window (defaults to 50ms)
	PollInterval time.Duration
	// Fallback is consulted when Redis is unavailable. Without it, Redis
	// failures deny admission.
	Fallback *Local
	// Metrics is optional.
	Metrics *metrics.Registry
}

// Stats holds counters kept in Redis.
type Stats struct {
	Limit           int
	Window          time.Duration
	Used            int64
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
}

// RedisWindow is a fixed-window limiter shared by every process using the same key.
type RedisWindow struct {
	cfg    RedisConfig
	script *redis.Script
	rec    recorder
}

// NewRedisWindow creates a Redis-backed fixed-window limiter.
func NewRedisWindow(cfg RedisConfig) (*RedisWindow, error) {
	if err := validation.ValidateNotNil("ratelimit", "redis", cfg.Redis); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotEmpty("ratelimit", "key", cfg.Key); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("ratelimit", "limit", cfg.Limit); err != nil {
		return nil, err
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.RedisTimeout <= 0 {
		cfg.RedisTimeout = 500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &RedisWindow{
		cfg:    cfg,
		script: redis.NewScript(luaFixedWindow),
		rec:    recorder{reg: cfg.Metrics, limiterType: "redis_fixed_window", name: cfg.Key},
	}, nil
}

func (w *RedisWindow) statsKey() string { return w.cfg.Key + ":stats" }

func (w *RedisWindow) windowKey(t time.Time) string {
	return fmt.Sprintf("%s:window:%d", w.cfg.Key, t.UnixNano()/int64(w.cfg.Window))
}

// Allow reports whether one event may happen in the current window.
func (w *RedisWindow) Allow(ctx context.Context) bool {
	ok, err := w.allow(ctx, 1)
	if err != nil {
		if w.cfg.Fallback != nil {
			return w.cfg.Fallback.Allow()
		}
		w.rec.request(false)
		return false
	}
	w.rec.request(ok)
	return ok
}

func (w *RedisWindow) allow(ctx context.Context, n int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RedisTimeout)
	defer cancel()

	ttl := int64(w.cfg.Window/time.Millisecond) + 1000
	res, err := w.script.Run(ctx, w.cfg.Redis,
		[]string{w.windowKey(time.Now()), w.statsKey()},
		n, w.cfg.Limit, ttl,
	).Int64()
	if err != nil {
		return false, gferrors.NewOperationError("ratelimit", "redis.allow", err).WithContext(w.cfg.Key)
	}
	return res == 1, nil
}

// Wait blocks until the current window admits one event or ctx is done.
func (w *RedisWindow) Wait(ctx context.Context) error {
	start := time.Now()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := w.allow(ctx, 1)
		if err != nil {
			if w.cfg.Fallback != nil {
				return w.cfg.Fallback.Wait(ctx)
			}
			w.rec.request(false)
			return err
		}
		if ok {
			w.rec.request(true)
			w.rec.waited(time.Since(start))
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			w.rec.request(false)
			return ctx.Err()
		}
	}
}

// Stats returns the shared counters.
func (w *RedisWindow) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RedisTimeout)
	defer cancel()

	pipe := w.cfg.Redis.Pipeline()
	statsCmd := pipe.HGetAll(ctx, w.statsKey())
	usedCmd := pipe.Get(ctx, w.windowKey(time.Now()))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, gferrors.NewOperationError("ratelimit", "redis.stats", err).WithContext(w.cfg.Key)
	}

	m := statsCmd.Val()
	total, _ := strconv.ParseInt(m["total_requests"], 10, 64)
	allowed, _ := strconv.ParseInt(m["allowed_requests"], 10, 64)
	denied, _ := strconv.ParseInt(m["denied_requests"], 10, 64)
	used, _ := strconv.ParseInt(usedCmd.Val(), 10, 64)

	return &Stats{
		Limit:           w.cfg.Limit,
		Window:          w.cfg.Window,
		Used:            used,
		TotalRequests:   total,
		AllowedRequests: allowed,
		DeniedRequests:  denied,
	}, nil
}

// Reset clears the current window and the counters.
func (w *RedisWindow) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RedisTimeout)
	defer cancel()

	if err := w.cfg.Redis.Del(ctx, w.statsKey(), w.windowKey(time.Now())).Err(); err != nil {
		return gferrors.NewOperationError("ratelimit", "redis.reset", err).WithContext(w.cfg.Key)
	}
	return nil
}

const luaFixedWindow = `
-- KEYS[1]: current window key
-- KEYS[2]: stats key
-- ARGV[1]: requests count
-- ARGV[2]: max requests per window
-- ARGV[3]: window TTL (milliseconds)

local requests = tonumber(ARGV[1])
local max_requests = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call('GET', KEYS[1]) or "0")

redis.call('HINCRBY', KEYS[2], 'total_requests', requests)
if current + requests <= max_requests then
    local updated = redis.call('INCRBY', KEYS[1], requests)
    if updated == requests then
        redis.call('PEXPIRE', KEYS[1], ttl)
    end
    redis.call('HINCRBY', KEYS[2], 'allowed_requests', requests)
    return 1
end

redis.call('HINCRBY', KEYS[2], 'denied_requests', requests)
return 0
`
