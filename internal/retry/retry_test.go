package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	terrors "github.com/p-blackswan/tod/internal/errors"
	"github.com/stretchr/testify/assert"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, RateLimitDelay: time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return terrors.NewAPIError("todoist", 400, "bad request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls) // Should not retry
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return terrors.ErrTimeout
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRun_RateLimitedAlways_StopsAtBound(t *testing.T) {
	calls := 0
	res := Run(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return terrors.NewAPIError("todoist", 429, "rate limit")
	})
	assert.Error(t, res.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, terrors.IsRateLimit(res.Err))
}

func TestRun_Once(t *testing.T) {
	calls := 0
	res := Run(context.Background(), fastConfig(5).Once(), func(ctx context.Context) error {
		calls++
		return terrors.ErrUnavailable
	})
	assert.ErrorIs(t, res.Err, terrors.ErrUnavailable)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fastConfig(3), func(ctx context.Context) error {
		calls++
		return terrors.ErrTimeout
	})
	// First call happens, then the backoff sleep observes the cancelled context
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_GenericNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return errors.New("generic error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDelay(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, RateLimitDelay: 3 * time.Second}

	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0, terrors.ErrTimeout))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(2, terrors.ErrTimeout))
	assert.Equal(t, time.Second, cfg.Delay(6, terrors.ErrTimeout), "capped at MaxDelay")

	assert.Equal(t, 3*time.Second, cfg.Delay(0, terrors.NewAPIError("todoist", 429, "")))

	hinted := &terrors.APIError{Service: "todoist", StatusCode: 429, RetryAfter: 7 * time.Second}
	assert.Equal(t, 7*time.Second, cfg.Delay(0, fmt.Errorf("wrapped: %w", hinted)))
}

func TestRun_OnRetry(t *testing.T) {
	var seen []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) }

	_ = Do(context.Background(), cfg, func(ctx context.Context) error { return terrors.ErrUnavailable })
	assert.Equal(t, []int{1, 2}, seen)
}
