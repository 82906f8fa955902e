/*
Package ratelimit provides admission limiters for operations that call
rate-limited services such as model endpoints.

An executor waits on its operation's Limiter before invoking the operation.
Two implementations are provided:

  - Local: an in-process token bucket built on golang.org/x/time/rate
  - RedisWindow: a fixed-window counter shared across instances through
    Redis, falling back to a Local limiter when Redis is unreachable

Both record Prometheus metrics when given a metrics.Registry:

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	limiter, err := ratelimit.NewLocal(ratelimit.LocalConfig{
		Name:    "openai",
		Rate:    5,
		Burst:   10,
		Metrics: reg,
	})

	shared, err := ratelimit.NewRedisWindow(ratelimit.RedisConfig{
		Redis:    client,
		Key:      "opflow:limits:openai",
		Limit:    300,
		Window:   time.Minute,
		Fallback: limiter,
	})
*/
package ratelimit
