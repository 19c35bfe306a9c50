package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/internal/testutil"
)

func sleeper(name string, d time.Duration) *testutil.ScriptedAgent {
	return testutil.NewScriptedAgent(name).RespondWith(func(ctx context.Context, _ core.Request) (core.Result, error) {
		select {
		case <-time.After(d):
			return core.Success(map[string]any{core.KeyResponse: name}), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func TestParallelAgent_DeclarationOrder(t *testing.T) {
	p := NewParallelAgent([]core.Agent{
		sleeper("slow", 30*time.Millisecond),
		sleeper("fast", 0),
	})

	res, err := p.Run(context.Background(), core.Request{})
	require.NoError(t, err)
	require.True(t, res.IsSuccess())

	results := res[core.KeyResults].([]map[string]any)
	require.Len(t, results, 2)
	assert.Equal(t, "slow", results[0][core.KeyAgent])
	assert.Equal(t, "fast", results[1][core.KeyAgent])
}

func TestParallelAgent_FailuresAreIsolated(t *testing.T) {
	panicking := testutil.NewScriptedAgent("panicking").RespondWith(func(context.Context, core.Request) (core.Result, error) {
		panic("boom")
	})
	failing := testutil.NewScriptedAgent("failing", core.ErrorResult("bad input"))
	ok := testutil.NewScriptedAgent("ok")

	res, err := NewParallelAgent([]core.Agent{panicking, failing, ok}).Run(context.Background(), core.Request{})
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())

	results := res[core.KeyResults].([]map[string]any)
	require.Len(t, results, 3)
	assert.Equal(t, core.StatusError, results[0][core.KeyStatus])
	assert.Contains(t, results[0][core.KeyError], "panicked")
	assert.Equal(t, "bad input", results[1][core.KeyError])
	assert.NotContains(t, results[2], core.KeyStatus)
	assert.Equal(t, 1, ok.CallCount())
}

func TestParallelAgent_BranchesGetOwnRequest(t *testing.T) {
	mutator := testutil.NewScriptedAgent("mutator").RespondWith(func(_ context.Context, req core.Request) (core.Result, error) {
		req["touched"] = true
		return core.Success(nil), nil
	})
	observer := testutil.NewScriptedAgent("observer")

	_, err := NewParallelAgent([]core.Agent{mutator, observer}).Run(context.Background(), core.Request{"x": 1})
	require.NoError(t, err)

	calls := observer.Calls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0], "touched")
}

func TestParallelAgent_Concurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	children := make([]core.Agent, 6)
	for i := range children {
		children[i] = testutil.NewScriptedAgent("c").RespondWith(func(context.Context, core.Request) (core.Result, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return core.Success(nil), nil
		})
	}

	p := NewParallelAgent(children, func(o *ParallelOptions) { o.Concurrency = 2 })
	_, err := p.Run(context.Background(), core.Request{})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestParallelAgent_BranchTimeout(t *testing.T) {
	p := NewParallelAgent([]core.Agent{
		sleeper("stuck", time.Second),
		sleeper("quick", 0),
	}, func(o *ParallelOptions) { o.Timeout = 20 * time.Millisecond })

	res, err := p.Run(context.Background(), core.Request{})
	require.NoError(t, err)

	results := res[core.KeyResults].([]map[string]any)
	assert.Equal(t, core.StatusError, results[0][core.KeyStatus])
	assert.Contains(t, results[0][core.KeyError], "timed out")
	assert.NotContains(t, results[1], core.KeyStatus)
}

func TestParallelAgent_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewParallelAgent([]core.Agent{sleeper("stuck", time.Second)}).Run(ctx, core.Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
