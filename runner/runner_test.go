package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/internal/testutil"
	"github.com/hupe1980/devmesh/security"
)

func TestRunner_New(t *testing.T) {
	a := testutil.NewScriptedAgent("a")

	_, err := New([]core.Agent{a, testutil.NewScriptedAgent("a")})
	assert.Error(t, err)

	_, err = New([]core.Agent{a}, func(o *Options) { o.Default = "missing" })
	assert.Error(t, err)

	r, err := New([]core.Agent{testutil.NewScriptedAgent("b"), a}, func(o *Options) { o.Default = "a" })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Agents())

	got, ok := r.Agent("")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name())
}

func TestRunner_Invoke(t *testing.T) {
	a := testutil.NewScriptedAgent("a").RespondWith(func(ctx context.Context, req core.Request) (core.Result, error) {
		return core.Success(map[string]any{
			"session_from_ctx": core.SessionIDFromContext(ctx),
			"has_limiter":      core.CallLimiterFromContext(ctx) != nil,
		}), nil
	})
	r, err := New([]core.Agent{a})
	require.NoError(t, err)

	res, err := r.Invoke(context.Background(), "a", core.Request{core.KeySessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", res["session_from_ctx"])
	assert.Equal(t, true, res["has_limiter"])

	_, err = r.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRunner_InvokeCancelled(t *testing.T) {
	var onError atomic.Int32
	a := testutil.NewScriptedAgent("a")
	r, err := New([]core.Agent{a}, func(o *Options) {
		o.Callbacks = []Callback{NewFunctionCallback(CallbackOnError, func(context.Context, *CallbackContext) error {
			onError.Add(1)
			return nil
		})}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Invoke(ctx, "a", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.CallCount())
}

func TestRunner_GuardCallback(t *testing.T) {
	a := testutil.NewScriptedAgent("a")
	r, err := New([]core.Agent{a}, func(o *Options) {
		o.Callbacks = []Callback{NewGuardCallback(security.New(security.DefaultConfig()))}
	})
	require.NoError(t, err)

	res, err := r.Invoke(context.Background(), "a", core.Request{core.KeyMessage: "please rm -rf /"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusBlocked, res.Status())
	assert.Equal(t, 0, a.CallCount())

	res, err = r.Invoke(context.Background(), "a", core.Request{core.KeyMessage: "hello"})
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
	assert.Equal(t, 1, a.CallCount())
}

func TestRunner_GuardCallbackScoped(t *testing.T) {
	a := testutil.NewScriptedAgent("a")
	b := testutil.NewScriptedAgent("b")
	r, err := New([]core.Agent{a, b}, func(o *Options) {
		o.Callbacks = []Callback{NewGuardCallback(security.New(security.DefaultConfig()), "a")}
	})
	require.NoError(t, err)

	req := core.Request{core.KeyMessage: "rm -rf /tmp/x"}
	res, err := r.Invoke(context.Background(), "b", req)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())

	res, err = r.Invoke(context.Background(), "a", req)
	require.NoError(t, err)
	assert.Equal(t, core.StatusBlocked, res.Status())
}

func TestRunner_ToolGuardCallback(t *testing.T) {
	exec := testutil.NewScriptedAgent("exec")
	other := testutil.NewScriptedAgent("other")
	r, err := New([]core.Agent{exec, other}, func(o *Options) {
		o.Callbacks = []Callback{NewToolGuardCallback(security.New(security.DefaultConfig()), "exec", security.CodeExecutorTool)}
	})
	require.NoError(t, err)

	req := core.Request{core.KeyCode: "import socket"}
	res, err := r.Invoke(context.Background(), "exec", req)
	require.NoError(t, err)
	assert.Equal(t, security.ReasonForbiddenImports, res[core.KeyReason])

	res, err = r.Invoke(context.Background(), "other", req)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
}

func TestRunner_Callbacks(t *testing.T) {
	a := testutil.NewScriptedAgent("a", core.Success(map[string]any{
		core.KeyEventActions: map[string]any{"state_delta": map[string]any{"forbidden": true}},
	}))

	var failed atomic.Int32
	r, err := New([]core.Agent{a}, func(o *Options) {
		o.Callbacks = []Callback{
			NewStateValidationCallback(func(delta map[string]any) error {
				if _, ok := delta["forbidden"]; ok {
					return errors.New("forbidden state key")
				}
				return nil
			}),
			NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
				failed.Add(1)
				assert.Equal(t, "forbidden state key", cc.Result.ErrorMessage())
				return nil
			}),
		}
	})
	require.NoError(t, err)

	res, err := r.Invoke(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, res.Status())
	assert.Equal(t, int32(1), failed.Load())
}

func TestRunner_AfterCallbackReplacesResult(t *testing.T) {
	r, err := New([]core.Agent{testutil.NewScriptedAgent("a")})
	require.NoError(t, err)
	r.Callbacks().Register(NewFunctionCallback(CallbackAfterAgent, func(_ context.Context, cc *CallbackContext) error {
		cc.Result = cc.Result.With("decorated", true)
		return nil
	}))

	res, err := r.Invoke(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.Equal(t, true, res["decorated"])
}

func TestRunner_Start(t *testing.T) {
	r, err := New([]core.Agent{testutil.NewScriptedAgent("a")})
	require.NoError(t, err)

	runID, progress, err := r.Start(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	var stages []Stage
	var last Progress
	for p := range progress {
		assert.Equal(t, runID, p.RunID)
		stages = append(stages, p.Stage)
		last = p
	}
	assert.Equal(t, []Stage{StageStarted, StageCompleted}, stages)
	assert.True(t, last.Final())
	assert.True(t, last.Result.IsSuccess())
	assert.ErrorIs(t, r.Cancel(runID), ErrRunNotFound)
}

func TestRunner_StartFailed(t *testing.T) {
	r, err := New([]core.Agent{testutil.NewScriptedAgent("a", core.ErrorResult("boom"))})
	require.NoError(t, err)

	_, progress, err := r.Start(context.Background(), "a", nil)
	require.NoError(t, err)

	var last Progress
	for p := range progress {
		last = p
	}
	assert.Equal(t, StageFailed, last.Stage)
	assert.Equal(t, "boom", last.Result.ErrorMessage())
}

func TestRunner_Cancel(t *testing.T) {
	started := make(chan struct{})
	a := testutil.NewScriptedAgent("slow").RespondWith(func(ctx context.Context, _ core.Request) (core.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r, err := New([]core.Agent{a})
	require.NoError(t, err)

	runID, progress, err := r.Start(context.Background(), "slow", nil)
	require.NoError(t, err)
	<-started
	assert.Equal(t, []string{runID}, r.Active())
	require.NoError(t, r.Cancel(runID))

	var last Progress
	for p := range progress {
		last = p
	}
	assert.Equal(t, StageCancelled, last.Stage)
	assert.ErrorIs(t, last.Err, context.Canceled)
	assert.Empty(t, r.Active())
}

func TestRunner_Concurrency(t *testing.T) {
	var running, peak atomic.Int32
	a := testutil.NewScriptedAgent("a").RespondWith(func(ctx context.Context, _ core.Request) (core.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return core.Success(nil), nil
	})
	r, err := New([]core.Agent{a}, func(o *Options) { o.MaxConcurrentInvocations = 2 })
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			_, _ = r.Invoke(context.Background(), "a", nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, a.CallCount())
}

func TestRunner_PanicHookReachesNestedAgents(t *testing.T) {
	inner := testutil.NewScriptedAgent("inner").RespondWith(func(context.Context, core.Request) (core.Result, error) {
		panic("inner exploded")
	})
	outer := testutil.NewScriptedAgent("outer").RespondWith(func(ctx context.Context, req core.Request) (core.Result, error) {
		return core.Invoke(ctx, inner, req)
	})

	var hooked []string
	r, err := New([]core.Agent{outer}, func(o *Options) {
		o.PanicHook = func(agent string, recovered any, _ []byte) {
			hooked = append(hooked, agent+": "+recovered.(string))
		}
	})
	require.NoError(t, err)

	res, err := r.Invoke(context.Background(), "outer", core.Request{})
	require.NoError(t, err)
	assert.True(t, res.IsError())
	assert.Contains(t, res.ErrorMessage(), "inner exploded")
	assert.Equal(t, []string{"inner: inner exploded"}, hooked)

	// Without an explicit hook the runner logs and keeps going.
	r, err = New([]core.Agent{outer})
	require.NoError(t, err)
	res, err = r.Invoke(context.Background(), "outer", core.Request{})
	require.NoError(t, err)
	assert.True(t, res.IsError())
}
