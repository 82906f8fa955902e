package ratelimit

import (
	"context"
	"time"

	"github.com/vnykmshr/opflow/pkg/metrics"
)

// Limiter gates admission of work. Wait blocks until one unit of work may
// proceed or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// LimiterFunc adapts a function to Limiter.
type LimiterFunc func(ctx context.Context) error

// Wait calls f(ctx).
func (f LimiterFunc) Wait(ctx context.Context) error { return f(ctx) }

// recorder updates limiter metrics when a registry is configured.
type recorder struct {
	reg         *metrics.Registry
	limiterType string
	name        string
}

func (r recorder) request(allowed bool) {
	if r.reg == nil {
		return
	}
	r.reg.RateLimitRequests.WithLabelValues(r.limiterType, r.name).Inc()
	if allowed {
		r.reg.RateLimitAllowed.WithLabelValues(r.limiterType, r.name).Inc()
	} else {
		r.reg.RateLimitDenied.WithLabelValues(r.limiterType, r.name).Inc()
	}
}

func (r recorder) waited(d time.Duration) {
	if r.reg == nil {
		return
	}
	r.reg.RateLimitWaitTime.WithLabelValues(r.limiterType, r.name).Observe(d.Seconds())
}
