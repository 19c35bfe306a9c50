package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcAgent struct {
	name string
	fn   func(ctx context.Context, req Request) (Result, error)
}

func (a funcAgent) Name() string        { return a.name }
func (a funcAgent) Description() string { return "test agent" }
func (a funcAgent) Run(ctx context.Context, req Request) (Result, error) {
	return a.fn(ctx, req)
}

func TestInvoke(t *testing.T) {
	t.Run("passes result through", func(t *testing.T) {
		a := funcAgent{name: "ok", fn: func(context.Context, Request) (Result, error) {
			return Success(map[string]any{"x": 1}), nil
		}}
		res, err := Invoke(context.Background(), a, Request{})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status())
		assert.Equal(t, 1, res["x"])
	})

	t.Run("recovers panic", func(t *testing.T) {
		var hooked string
		ctx := WithPanicHook(context.Background(), func(agent string, _ any, stack []byte) {
			hooked = agent
			assert.NotEmpty(t, stack)
		})

		a := funcAgent{name: "boom", fn: func(context.Context, Request) (Result, error) {
			panic("kaboom")
		}}
		res, err := Invoke(ctx, a, Request{})
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status())
		assert.Contains(t, res.ErrorMessage(), "kaboom")
		assert.Equal(t, "boom", hooked)

		res, err = Invoke(context.Background(), a, Request{})
		require.NoError(t, err)
		assert.True(t, res.IsError())
	})

	t.Run("converts error", func(t *testing.T) {
		a := funcAgent{name: "bad", fn: func(context.Context, Request) (Result, error) {
			return nil, errors.New("nope")
		}}
		res, err := Invoke(context.Background(), a, Request{})
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status())
		assert.Equal(t, "nope", res.ErrorMessage())
	})

	t.Run("capability error becomes not_implemented", func(t *testing.T) {
		a := funcAgent{name: "cap", fn: func(context.Context, Request) (Result, error) {
			return nil, NewError(ErrCapabilityUnavailable, "no executor")
		}}
		res, err := Invoke(context.Background(), a, Request{})
		require.NoError(t, err)
		assert.Equal(t, StatusNotImplemented, res.Status())
	})

	t.Run("nil result", func(t *testing.T) {
		a := funcAgent{name: "nil", fn: func(context.Context, Request) (Result, error) { return nil, nil }}
		res, err := Invoke(context.Background(), a, Request{})
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status())
	})

	t.Run("missing status", func(t *testing.T) {
		a := funcAgent{name: "nostatus", fn: func(context.Context, Request) (Result, error) {
			return Result{"x": 1}, nil
		}}
		res, err := Invoke(context.Background(), a, Request{})
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status())
		assert.Equal(t, 1, res["x"])
	})

	t.Run("cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		a := funcAgent{name: "slow", fn: func(ctx context.Context, _ Request) (Result, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		_, err := Invoke(ctx, a, Request{})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("already cancelled does not run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ran := false
		a := funcAgent{name: "never", fn: func(context.Context, Request) (Result, error) {
			ran = true
			return Success(nil), nil
		}}
		_, err := Invoke(ctx, a, Request{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ran)
	})

	t.Run("foreign deadline is not a cancellation", func(t *testing.T) {
		a := funcAgent{name: "inner", fn: func(context.Context, Request) (Result, error) {
			return nil, context.DeadlineExceeded
		}}
		res, err := Invoke(context.Background(), a, Request{})
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status())
	})
}

func TestRequest_CopyAndExtend(t *testing.T) {
	orig := Request{"a": 1}
	next := orig.With("b", 2).Extend(map[string]any{"c": 3})

	assert.Equal(t, Request{"a": 1}, orig)
	assert.Equal(t, Request{"a": 1, "b": 2, "c": 3}, next)
}

func TestRequest_TaskDescription(t *testing.T) {
	assert.Equal(t, "build it", Request{"description": "build it"}.TaskDescription())
	assert.Equal(t, "execute_code", Request{"action": "execute_code"}.TaskDescription())
	assert.Equal(t, "execute code", Request{"code": "print(1)"}.TaskDescription())
}

func TestCallLimiter(t *testing.T) {
	l := NewCallLimiter(2)
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Acquire())
	err := l.Acquire()
	assert.ErrorIs(t, err, ErrCallLimitExceeded)
	assert.Equal(t, 0, l.Remaining())

	assert.Equal(t, -1, NewCallLimiter(0).Remaining())
}

func TestLoopControl(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, LoopControlFromContext(ctx))

	lc := &LoopControl{}
	ctx = WithLoopControl(ctx, lc)
	LoopControlFromContext(ctx).RequestExit("done")

	exit, reason := lc.ExitRequested()
	assert.True(t, exit)
	assert.Equal(t, "done", reason)
}
