package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/devmesh/core"
)

// ParallelOptions configures a ParallelAgent.
type ParallelOptions struct {
	Common
	Name string
	// Concurrency caps in-flight children. Zero or less means no cap.
	Concurrency int
	// Timeout bounds each child. Zero means no bound.
	Timeout time.Duration
}

// ParallelAgent runs its children concurrently and gathers every Result.
// A failing or panicking child is isolated to its own entry; the others keep
// running.
type ParallelAgent struct {
	BaseAgent
	opts ParallelOptions
}

// NewParallelAgent creates a scatter/gather coordinator over children.
func NewParallelAgent(children []core.Agent, optFns ...func(o *ParallelOptions)) *ParallelAgent {
	opts := ParallelOptions{Name: ParallelAgentName}
	for _, fn := range optFns {
		fn(&opts)
	}
	p := &ParallelAgent{
		BaseAgent: NewBaseAgent(opts.Name, "Parallel execution orchestrator", core.BackingScaffold, opts.Common),
		opts:      opts,
	}
	p.setSubAgents(children...)
	return p
}

// Run implements core.Agent. Each child receives its own copy of the
// request. Results are reported in declaration order, not completion order:
//
//	{status: success, agent, results: [{agent, result} | {agent, status: error, error, result}...]}
//
// Cancellation of ctx is returned as error once every child has stopped.
func (p *ParallelAgent) Run(ctx context.Context, req core.Request) (res core.Result, err error) {
	ctx, done := p.begin(ctx, req)
	defer func() { done(res, err) }()

	children := p.SubAgents()
	entries := make([]map[string]any, len(children))
	base := requestFrom(ctx, req)

	var g errgroup.Group
	if p.opts.Concurrency > 0 {
		g.SetLimit(p.opts.Concurrency)
	}

	for i, child := range children {
		g.Go(func() error {
			branchCtx := ctx
			if p.opts.Timeout > 0 {
				var cancel context.CancelFunc
				branchCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
				defer cancel()
			}

			childRes, err := core.Invoke(branchCtx, child, base.Clone())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				childRes = core.ErrorResult("branch timed out: " + err.Error())
			}
			entries[i] = p.entry(child.Name(), childRes)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return core.Success(map[string]any{core.KeyAgent: p.Name(), core.KeyResults: entries}), nil
}

func (p *ParallelAgent) entry(agent string, res core.Result) map[string]any {
	if res.IsError() {
		p.logger.Warn("parallel.branch.failed", "branch", agent, "error", res.ErrorMessage())
		return map[string]any{
			core.KeyAgent:  agent,
			core.KeyStatus: core.StatusError,
			core.KeyError:  res.ErrorMessage(),
			core.KeyResult: res,
		}
	}
	return map[string]any{core.KeyAgent: agent, core.KeyResult: res}
}
