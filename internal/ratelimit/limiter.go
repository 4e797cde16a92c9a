// Package ratelimit provides the token-bucket hook consulted before every
// model invocation.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Config configures a limiter.
type Config struct {
	RequestsPerMinute float64 // 0 disables limiting
	Burst             int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		Burst:             5,
	}
}

// Limiter implements core.RateLimitHook on top of a token bucket.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter. A non-positive rate yields an unlimited limiter.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst)}
}

// Wait blocks until a token is available. Cancelling ctx interrupts the wait.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return core.ErrCancelled("rate limit wait interrupted").WithCause(ctx.Err())
		}
		// The requested wait would outlast the context deadline.
		return core.ErrRateLimited("quota not available before deadline").WithCause(err)
	}
	return nil
}

// TryAcquire takes a token without blocking.
func (l *Limiter) TryAcquire() bool {
	return l.limiter.Allow()
}

// Available returns the number of tokens currently in the bucket.
func (l *Limiter) Available() float64 {
	return l.limiter.Tokens()
}

// Registry keeps one limiter per model name.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	configs  map[string]Config
	fallback Config
}

// NewRegistry creates a registry whose unknown models use fallback.
func NewRegistry(fallback Config) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		configs:  make(map[string]Config),
		fallback: fallback,
	}
}

// Get returns the limiter for a model, creating it on first use.
func (r *Registry) Get(model string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[model]; ok {
		return l
	}
	cfg, ok := r.configs[model]
	if !ok {
		cfg = r.fallback
	}
	l := New(cfg)
	r.limiters[model] = l
	return l
}

// SetConfig replaces the configuration for a model.
func (r *Registry) SetConfig(model string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[model] = cfg
	r.limiters[model] = New(cfg)
}

// Hook returns a core.RateLimitHook bound to a model.
func (r *Registry) Hook(model string) core.RateLimitHook {
	return core.RateLimitFunc(func(ctx context.Context) error {
		return r.Get(model).Wait(ctx)
	})
}

var _ core.RateLimitHook = (*Limiter)(nil)
