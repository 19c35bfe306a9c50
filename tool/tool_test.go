package tool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/internal/util"
	"github.com/hupe1980/devmesh/security"
	"github.com/hupe1980/devmesh/session"
)

// -------------------- Schema & Validation Tests --------------------

type sampleSchema struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestCreateSchema(t *testing.T) {
	schema := util.CreateSchema(sampleSchema{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")
	assert.ElementsMatch(t, []string{"a"}, schema["required"])
}

func TestValidateParameters(t *testing.T) {
	for _, required := range []any{[]any{"x"}, []string{"x"}} {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "integer"},
			},
			"required": required,
		}

		assert.NoError(t, util.ValidateParameters(map[string]any{"x": 5}, schema))
		assert.NoError(t, util.ValidateParameters(map[string]any{"x": float64(5)}, schema))

		var vErr *ValidationError
		err := util.ValidateParameters(map[string]any{}, schema)
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "x", vErr.Field)

		err = util.ValidateParameters(map[string]any{"x": "not-int"}, schema)
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Message, "expected type integer")
	}
}

// -------------------- FunctionTool Tests --------------------

func sumTool() *FunctionTool {
	return NewFunctionTool("sum", "Add two numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(_ context.Context, args core.Request) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func TestFunctionTool_Success(t *testing.T) {
	res, err := sumTool().Call(context.Background(), core.Request{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, res.Status())
	assert.Equal(t, 5.0, res[core.KeyResult])
}

func TestFunctionTool_ValidationError(t *testing.T) {
	res, err := sumTool().Call(context.Background(), core.Request{"a": 2.0})
	require.NoError(t, err)
	assert.True(t, res.IsError())
	assert.Equal(t, CodeValidation, res["code"])
	assert.Equal(t, "sum", res["tool"])
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	failing := NewFunctionTool("fail", "always fails", nil, func(context.Context, core.Request) (any, error) {
		return nil, errors.New("boom")
	})
	res, err := failing.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, CodeExecution, res["code"])
	assert.Equal(t, "boom", res.ErrorMessage())

	custom := NewFunctionTool("custom", "custom code", nil, func(context.Context, core.Request) (any, error) {
		return nil, NewToolError("custom", "nope", "CUSTOM")
	})
	res, err = custom.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM", res["code"])
}

func TestFunctionTool_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewFunctionTool("slow", "waits", nil, func(ctx context.Context, _ core.Request) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := slow.Call(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFunctionTool_ResultPassthrough(t *testing.T) {
	ft := NewFunctionTool("raw", "returns a status map", nil, func(context.Context, core.Request) (any, error) {
		return map[string]any{"status": "blocked", "reason": "x"}, nil
	})
	res, err := ft.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, core.StatusBlocked, res.Status())
}

// -------------------- Control Tools --------------------

func TestTransferToAgentTool(t *testing.T) {
	tt := NewTransferToAgentTool()
	res, err := tt.Call(context.Background(), core.Request{"agent_name": "developing_agent", "reason": "code"})
	require.NoError(t, err)
	actions, ok := core.ActionsOf(res)
	require.True(t, ok)
	assert.Equal(t, "developing_agent", actions.TransferTarget())

	res, err = tt.Call(context.Background(), core.Request{})
	require.NoError(t, err)
	assert.True(t, res.IsError())
}

func TestExitLoopTool(t *testing.T) {
	lc := &core.LoopControl{}
	ctx := core.WithLoopControl(context.Background(), lc)

	res, err := NewExitLoopTool().Call(ctx, core.Request{"reason": "done"})
	require.NoError(t, err)
	assert.Equal(t, true, res["exit_requested"])
	exit, reason := lc.ExitRequested()
	assert.True(t, exit)
	assert.Equal(t, "done", reason)

	res, err = NewExitLoopTool().Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, false, res["exit_requested"])
}

type echoAgent struct{}

func (echoAgent) Name() string        { return "echo" }
func (echoAgent) Description() string { return "echoes the message" }
func (echoAgent) Run(_ context.Context, req core.Request) (core.Result, error) {
	if req.String("message") == "panic" {
		panic("echo exploded")
	}
	return core.Success(map[string]any{"echo": req.String("message")}), nil
}

func TestAgentTool(t *testing.T) {
	at := NewAgentTool(echoAgent{}, nil)
	assert.Equal(t, "echo", at.Name())
	assert.Contains(t, at.Parameters()["properties"], "message")

	res, err := at.Call(context.Background(), core.Request{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res["echo"])

	res, err = at.Call(context.Background(), core.Request{"message": "panic"})
	require.NoError(t, err)
	assert.True(t, res.IsError())
}

// -------------------- Registry --------------------

func TestRegistry_RegisterUnique(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool()))
	assert.Error(t, r.Register(sumTool()))
	require.NoError(t, r.Register(NewExitLoopTool()))

	specs := r.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "exit_loop", specs[0].Name)
	assert.Equal(t, "sum", specs[1].Name)

	res, err := r.Call(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.Equal(t, CodeNotFound, res["code"])
}

func TestRegistry_GuardBlocksCode(t *testing.T) {
	r := NewRegistry(func(o *RegistryOptions) { o.Guard = security.New(security.DefaultConfig()) })
	var called atomic.Bool
	r.MustRegister(NewFunctionTool(security.CodeExecutorTool, "runs code", nil, func(context.Context, core.Request) (any, error) {
		called.Store(true)
		return "ok", nil
	}))

	res, err := r.Call(context.Background(), security.CodeExecutorTool, core.Request{"code": "import socket"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusBlocked, res.Status())
	assert.False(t, called.Load())
}

func TestRegistry_CacheAndRateLimit(t *testing.T) {
	r := NewRegistry()
	var calls atomic.Int32
	counting := NewFunctionTool("counting", "counts calls", nil, func(context.Context, core.Request) (any, error) {
		return int(calls.Add(1)), nil
	})
	r.MustRegister(counting, func(o *RegisterOptions) { o.Cacheable = true })

	for i := 0; i < 3; i++ {
		res, err := r.Call(context.Background(), "counting", core.Request{"q": "same"})
		require.NoError(t, err)
		assert.Equal(t, 1, res[core.KeyResult])
	}
	_, _ = r.Call(context.Background(), "counting", core.Request{"q": "other"})
	assert.Equal(t, int32(2), calls.Load())

	limited := NewFunctionTool("limited", "limited", nil, func(context.Context, core.Request) (any, error) { return "ok", nil })
	r.MustRegister(limited, func(o *RegisterOptions) { o.Rate = 0.001; o.Burst = 1 })

	res, _ := r.Call(context.Background(), "limited", nil)
	assert.True(t, res.IsSuccess())
	res, _ = r.Call(context.Background(), "limited", nil)
	assert.Equal(t, CodeRateLimited, res["code"])
}

func TestRegistry_RecordsExecutions(t *testing.T) {
	ctx := context.Background()
	state := session.NewStateStore(session.NewInMemoryStore())
	sess, err := state.Begin(ctx, "u", "p")
	require.NoError(t, err)

	r := NewRegistry(func(o *RegistryOptions) { o.State = state })
	r.MustRegister(sumTool())
	r.MustRegister(NewFunctionTool("explode", "panics", nil, func(context.Context, core.Request) (any, error) {
		panic("kaboom")
	}))

	_, err = r.Call(core.WithSessionID(ctx, sess.ID), "sum", core.Request{"a": 1.0, "b": 1.0})
	require.NoError(t, err)
	res, err := r.Call(ctx, "explode", core.Request{"session_id": sess.ID})
	require.NoError(t, err)
	assert.Equal(t, CodePanic, res["code"])

	log, err := state.Log(ctx, sess.ID, core.KeyToolExecutions)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "sum", log[0]["tool"])
	assert.Equal(t, core.StatusSuccess, log[0]["status"])
	assert.Equal(t, "explode", log[1]["tool"])
	assert.Equal(t, core.StatusError, log[1]["status"])
}

func TestRegistry_Guarded(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(sumTool())
	tools := r.Guarded()
	require.Len(t, tools, 1)

	res, err := tools[0].Call(context.Background(), core.Request{"a": 1.0})
	require.NoError(t, err)
	assert.Equal(t, CodeValidation, res["code"])
}

func TestToolErrorFormatting(t *testing.T) {
	assert.Equal(t, "tool error [X] in t: m", NewToolError("t", "m", "X").Error())
	assert.Equal(t, "tool error in t: m", NewToolError("t", "m", "").Error())
}
