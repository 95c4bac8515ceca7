// Package retry provides bounded exponential backoff for calls to the remote task service.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	terrors "github.com/p-blackswan/tod/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RateLimitDelay is used when a rate-limit signal carries no Retry-After hint.
	RateLimitDelay time.Duration
	Jitter         bool
	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: 5 * time.Second,
		Jitter:         true,
	}
}

// Once returns a copy of cfg that never retries.
func (cfg Config) Once() Config {
	cfg.MaxAttempts = 1
	return cfg
}

// Result is the outcome of a retried call.
type Result struct {
	Attempts int
	Err      error
}

// Do executes fn with exponential backoff. Only retries if the error is retryable.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	return Run(ctx, cfg, fn).Err
}

// Run is Do but also reports how many attempts were made.
func Run(ctx context.Context, cfg Config, fn func(ctx context.Context) error) Result {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return Result{Attempts: attempt + 1}
		}
		if !terrors.IsRetryable(lastErr) {
			return Result{Attempts: attempt + 1, Err: lastErr}
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := cfg.Delay(attempt, lastErr)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Attempts: attempt + 1, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return Result{Attempts: maxAttempts, Err: lastErr}
}

// Delay returns the wait before the retry following the given zero-based attempt.
func (cfg Config) Delay(attempt int, err error) time.Duration {
	if terrors.IsRateLimit(err) {
		if d, ok := terrors.RetryAfter(err); ok {
			return d
		}
		if cfg.RateLimitDelay > 0 {
			return cfg.RateLimitDelay
		}
	}

	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}
