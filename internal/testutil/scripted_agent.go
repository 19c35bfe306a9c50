package testutil

import (
	"context"
	"maps"
	"sync"

	"github.com/hupe1980/devmesh/core"
)

// ScriptedAgent returns pre-recorded Results in order and remembers every
// request it received. Once the script is exhausted the last Result repeats.
// It is safe for concurrent use.
type ScriptedAgent struct {
	name string

	mu      sync.Mutex
	results []core.Result
	respond func(ctx context.Context, req core.Request) (core.Result, error)
	calls   []core.Request
}

// NewScriptedAgent creates an agent named name replaying results. Without
// results it answers {status: success, agent: name}.
func NewScriptedAgent(name string, results ...core.Result) *ScriptedAgent {
	return &ScriptedAgent{name: name, results: results}
}

// RespondWith replaces the script with fn.
func (a *ScriptedAgent) RespondWith(fn func(ctx context.Context, req core.Request) (core.Result, error)) *ScriptedAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.respond = fn
	return a
}

// Name implements core.Agent.
func (a *ScriptedAgent) Name() string { return a.name }

// Description implements core.Agent.
func (a *ScriptedAgent) Description() string { return "scripted agent " + a.name }

// Run implements core.Agent.
func (a *ScriptedAgent) Run(ctx context.Context, req core.Request) (core.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req.Clone())
	n := len(a.calls)
	respond := a.respond
	var res core.Result
	switch {
	case respond != nil:
	case len(a.results) == 0:
		res = core.Success(map[string]any{core.KeyAgent: a.name})
	case n <= len(a.results):
		res = a.results[n-1]
	default:
		res = a.results[len(a.results)-1]
	}
	a.mu.Unlock()

	if respond != nil {
		return respond(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return maps.Clone(res), nil
}

// Calls returns copies of the received requests.
func (a *ScriptedAgent) Calls() []core.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.Request, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount returns the number of runs.
func (a *ScriptedAgent) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}
