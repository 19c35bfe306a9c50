package core

import (
	"context"
	"fmt"
	"sync"
)

// CallLimiter bounds the number of LLM calls made during one run.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter allowing max calls. Zero means unlimited.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Acquire records one call and fails once the budget is exceeded.
func (l *CallLimiter) Acquire() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return Wrap(ErrCallLimitExceeded, fmt.Sprintf("max llm calls %d", l.max), nil)
	}
	return nil
}

// Count returns the number of calls made so far.
func (l *CallLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Remaining returns the calls left, or -1 when unlimited.
func (l *CallLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max == 0 {
		return -1
	}
	if r := l.max - l.count; r > 0 {
		return r
	}
	return 0
}

type callLimiterKey struct{}

// WithCallLimiter attaches l to ctx so every inference made during one run
// shares the same budget.
func WithCallLimiter(ctx context.Context, l *CallLimiter) context.Context {
	return context.WithValue(ctx, callLimiterKey{}, l)
}

// CallLimiterFromContext returns the limiter attached to ctx or nil.
func CallLimiterFromContext(ctx context.Context) *CallLimiter {
	l, _ := ctx.Value(callLimiterKey{}).(*CallLimiter)
	return l
}
