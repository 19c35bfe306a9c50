package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/devmesh/core"
)

// SequentialOptions configures a SequentialAgent.
type SequentialOptions struct {
	Common
	Name string
}

// SequentialAgent runs its children one after another. Each child sees the
// previous child's Result under "previous_result" and its "state" entry under
// "state". The first error Result stops the pipeline.
type SequentialAgent struct {
	BaseAgent
}

// NewSequentialAgent creates a sequential pipeline over children.
func NewSequentialAgent(children []core.Agent, optFns ...func(o *SequentialOptions)) *SequentialAgent {
	opts := SequentialOptions{Name: SequentialAgentName}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &SequentialAgent{
		BaseAgent: NewBaseAgent(opts.Name, "Sequential pipeline orchestrator", core.BackingScaffold, opts.Common),
	}
	s.setSubAgents(children...)
	return s
}

// Run implements core.Agent. The Result is
//
//	{status: success, agent, results: [{agent, result}...]}
//
// or, when a child failed,
//
//	{status: error, agent, failed_at, error, results}
//
// where results holds every entry gathered up to and including the failure.
func (s *SequentialAgent) Run(ctx context.Context, req core.Request) (res core.Result, err error) {
	ctx, done := s.begin(ctx, req)
	defer func() { done(res, err) }()

	current := requestFrom(ctx, req)
	results := make([]map[string]any, 0, len(s.SubAgents()))

	for _, child := range s.SubAgents() {
		childRes, err := core.Invoke(ctx, child, current)
		if err != nil {
			return nil, err
		}
		results = append(results, map[string]any{core.KeyAgent: child.Name(), core.KeyResult: childRes})

		if childRes.IsError() {
			s.logger.Warn("sequential.failed", "failed_at", child.Name(), "error", childRes.ErrorMessage())
			return core.ErrorResultWith(
				fmt.Sprintf("sequential execution failed at agent %s: %s", child.Name(), childRes.ErrorMessage()),
				map[string]any{
					core.KeyAgent:   s.Name(),
					"failed_at":     child.Name(),
					core.KeyResults: results,
				}), nil
		}

		state, ok := childRes[core.KeyState]
		if !ok || state == nil {
			state = map[string]any{}
		}
		current = current.Extend(map[string]any{
			core.KeyPreviousResult: childRes,
			core.KeyState:          state,
		})
	}

	return core.Success(map[string]any{core.KeyAgent: s.Name(), core.KeyResults: results}), nil
}
