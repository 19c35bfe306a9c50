package code

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig controls exponential backoff for executor start failures.
type RetryConfig struct {
	Attempts  int           // retries after the first try, 0 disables
	BaseDelay time.Duration // initial backoff delay
	MaxDelay  time.Duration // maximum backoff delay
}

// DefaultRetryConfig matches the execution defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// RetryExecutor retries runs that failed to start. Completed runs (any exit
// code), cancellation and unavailability are returned immediately.
type RetryExecutor struct {
	next Executor
	cfg  RetryConfig
}

// WithRetry wraps next.
func WithRetry(next Executor, cfg RetryConfig) *RetryExecutor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &RetryExecutor{next: next, cfg: cfg}
}

// Execute implements Executor.
func (r *RetryExecutor) Execute(ctx context.Context, code string) (Output, error) {
	var (
		out Output
		err error
	)
	for attempt := 0; attempt <= r.cfg.Attempts; attempt++ {
		out, err = r.next.Execute(ctx, code)
		if err == nil || !retryable(ctx, err) {
			return out, err
		}
		if attempt < r.cfg.Attempts {
			t := time.NewTimer(backoffWithJitter(r.cfg.BaseDelay, r.cfg.MaxDelay, attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return out, ctx.Err()
			case <-t.C:
			}
		}
	}
	return out, err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrUnavailable)
}

// backoffWithJitter computes min(base * 2^attempt, max) +/- 25%.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	quarter := delay / 4
	if quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return delay
}
