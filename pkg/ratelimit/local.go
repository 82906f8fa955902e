package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/metrics"
)

// LocalConfig configures an in-process token bucket.
type LocalConfig struct {
	// Name labels metrics.
	Name string
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
	// Metrics is optional.
	Metrics *metrics.Registry
}

// Local is an in-process token bucket limiter.
type Local struct {
	limiter *rate.Limiter
	rec     recorder
}

// NewLocal creates a token bucket limiter.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if err := validation.ValidatePositiveFloat("ratelimit", "rate", cfg.Rate); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("ratelimit", "burst", cfg.Burst); err != nil {
		return nil, err
	}
	return &Local{
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		rec:     recorder{reg: cfg.Metrics, limiterType: "token_bucket", name: cfg.Name},
	}, nil
}

// Allow reports whether one event may happen now.
func (l *Local) Allow() bool {
	return l.AllowN(1)
}

// AllowN reports whether n events may happen now.
func (l *Local) AllowN(n int) bool {
	ok := l.limiter.AllowN(time.Now(), n)
	l.rec.request(ok)
	return ok
}

// Wait blocks until one event may happen or ctx is done.
func (l *Local) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	l.rec.request(err == nil)
	if err == nil {
		l.rec.waited(time.Since(start))
	}
	return err
}

// SetRate changes the refill rate.
func (l *Local) SetRate(r float64) error {
	if err := validation.ValidatePositiveFloat("ratelimit", "rate", r); err != nil {
		return err
	}
	l.limiter.SetLimit(rate.Limit(r))
	return nil
}

// SetBurst changes the bucket capacity.
func (l *Local) SetBurst(burst int) error {
	if err := validation.ValidatePositive("ratelimit", "burst", burst); err != nil {
		return err
	}
	l.limiter.SetBurst(burst)
	return nil
}

// Tokens returns the tokens currently available.
func (l *Local) Tokens() float64 {
	return l.limiter.Tokens()
}
