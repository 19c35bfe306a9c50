package agent

import (
	"context"
	"time"

	"github.com/hupe1980/devmesh/core"
)

// DefaultMaxIterations is used when no iteration bound is configured.
const DefaultMaxIterations = 5

// Loop termination reasons.
const (
	TerminationEscalate      = "escalate_signal"
	TerminationExitTool      = "exit_loop_tool"
	TerminationPredicate     = "predicate_satisfied"
	TerminationChildError    = "child_error"
	TerminationMaxIterations = "max_iterations_reached"
)

// LoopOption customizes a LoopAgent.
type LoopOption func(*LoopAgent)

// WithMaxIterations bounds the number of iterations. Zero runs nothing.
func WithMaxIterations(n int) LoopOption {
	return func(l *LoopAgent) {
		if n >= 0 {
			l.maxIters = n
		}
	}
}

// WithInterval sets a pause between iterations.
func WithInterval(d time.Duration) LoopOption {
	return func(l *LoopAgent) { l.interval = d }
}

// WithPredicate stops the loop once pred returns true for the text of a
// sub-agent result.
func WithPredicate(pred func(string) bool) LoopOption {
	return func(l *LoopAgent) { l.predicate = pred }
}

// WithStopOnError stops the loop at the first error Result instead of
// feeding it to the next sub-agent.
func WithStopOnError(stop bool) LoopOption {
	return func(l *LoopAgent) { l.stopOnError = stop }
}

// WithLoopName overrides the agent name.
func WithLoopName(name string) LoopOption {
	return func(l *LoopAgent) { l.name = name }
}

// WithLoopCommon sets the logger, metrics and tracer.
func WithLoopCommon(c Common) LoopOption {
	return func(l *LoopAgent) { l.common = c }
}

// LoopAgent runs its sub-agents in order, repeatedly, until one of them
// signals termination or the iteration bound is reached. Termination is
// checked after every sub-agent, in this order:
//
//  1. event_actions.escalate on the Result
//  2. the deprecated top-level escalate / terminate flags
//  3. an exit requested through the exit_loop tool
//
// Each sub-agent receives the request extended with the previous Result
// under "previous_result".
type LoopAgent struct {
	BaseAgent
	name        string
	common      Common
	maxIters    int
	interval    time.Duration
	stopOnError bool
	predicate   func(string) bool
}

// NewLoopAgent constructs a loop over children. It runs DefaultMaxIterations
// iterations unless configured otherwise.
func NewLoopAgent(children []core.Agent, opts ...LoopOption) *LoopAgent {
	l := &LoopAgent{
		name:     LoopAgentName,
		maxIters: DefaultMaxIterations,
	}
	for _, o := range opts {
		o(l)
	}
	l.BaseAgent = NewBaseAgent(l.name, "Loop execution orchestrator", core.BackingScaffold, l.common)
	l.setSubAgents(children...)
	return l
}

// MaxIterations returns the configured iteration bound.
func (l *LoopAgent) MaxIterations() int { return l.maxIters }

// Run implements core.Agent. The Result is always completed:
//
//	{status: completed, agent, iterations, results: [{iteration, agent, result}...], termination_reason}
func (l *LoopAgent) Run(ctx context.Context, req core.Request) (res core.Result, err error) {
	ctx, done := l.begin(ctx, req)
	defer func() { done(res, err) }()

	control := &core.LoopControl{}
	ctx = core.WithLoopControl(ctx, control)

	current := requestFrom(ctx, req)
	results := make([]map[string]any, 0)

	finish := func(iteration int, reason string) core.Result {
		l.logger.Info("loop.finished", "iterations", iteration, "termination_reason", reason)
		return core.Completed(map[string]any{
			core.KeyAgent:        l.Name(),
			"iterations":         iteration,
			core.KeyResults:      results,
			"termination_reason": reason,
		})
	}

	for iteration := 1; iteration <= l.maxIters; iteration++ {
		if iteration > 1 && l.interval > 0 {
			t := time.NewTimer(l.interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		l.logger.Debug("loop.iteration", "iteration", iteration)

		for _, child := range l.SubAgents() {
			childRes, err := core.Invoke(ctx, child, current)
			if err != nil {
				return nil, err
			}
			results = append(results, map[string]any{
				"iteration":    iteration,
				core.KeyAgent:  child.Name(),
				core.KeyResult: childRes,
			})

			if reason := l.termination(child.Name(), childRes, control); reason != "" {
				return finish(iteration, reason), nil
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
	}

	return finish(l.maxIters, TerminationMaxIterations), nil
}

func (l *LoopAgent) termination(child string, res core.Result, control *core.LoopControl) string {
	if escalates(res) {
		return TerminationEscalate
	}
	if flag(res, "escalate") || flag(res, "terminate") {
		l.logger.Warn("loop.legacy_flag", "agent", child, "hint", "set event_actions.escalate instead of top-level escalate/terminate")
		return TerminationEscalate
	}
	if exit, _ := control.ExitRequested(); exit {
		return TerminationExitTool
	}
	if l.predicate != nil && l.predicate(core.ExtractText(res, nil, child)) {
		return TerminationPredicate
	}
	if l.stopOnError && res.IsError() {
		return TerminationChildError
	}
	return ""
}

// escalates looks for an escalate action on the Result itself or on the raw
// inference result it wraps.
func escalates(res core.Result) bool {
	if actions, ok := core.ActionsOf(res); ok && actions.Escalates() {
		return true
	}
	if llm, ok := res[core.KeyLLMResult].(map[string]any); ok {
		if actions, ok := core.ParseEventActions(llm[core.KeyEventActions]); ok && actions.Escalates() {
			return true
		}
	}
	return false
}

func flag(res core.Result, key string) bool {
	b, ok := res[key].(bool)
	return ok && b
}
