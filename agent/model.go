package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/devmesh/core"
)

// ModelAgentOptions configures a ModelAgent.
type ModelAgentOptions struct {
	Common
	Description string
	Instruction Instruction
	Tools       []core.Tool
	// OutputKey is the session key the final answer is stored under. Empty
	// means "<name>_response".
	OutputKey string
}

// ModelAgent is a generic inference-backed agent. It is meant to be placed
// inside workflows: its Result carries the event actions raised during the
// invocation, so an enclosing loop sees escalation requests.
type ModelAgent struct {
	BaseAgent
	inference core.Inference
	opts      ModelAgentOptions
}

// NewModelAgent creates an agent answering through inference.
func NewModelAgent(name string, inference core.Inference, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelAgent{
		BaseAgent: NewBaseAgent(name, opts.Description, core.BackingLLM, opts.Common),
		inference: inference,
		opts:      opts,
	}
}

// Run implements core.Agent. A successful Result is
//
//	{status: success, agent, response, llm_result, event_actions?}
func (m *ModelAgent) Run(ctx context.Context, req core.Request) (res core.Result, err error) {
	ctx, done := m.begin(ctx, req)
	defer func() { done(res, err) }()

	if m.inference == nil {
		return core.NotImplemented(m.Name(), "no inference capability configured"), nil
	}

	instruction, err := m.opts.Instruction.Resolve(ctx, req)
	if err != nil {
		return core.ErrorResultWith(fmt.Sprintf("resolve instruction: %v", err), map[string]any{core.KeyAgent: m.Name()}), nil
	}

	events, errs := m.inference.Invoke(ctx, core.InferenceInput{
		Agent:       m.Name(),
		Description: m.Description(),
		Instruction: instruction,
		Request:     requestFrom(ctx, req),
		SessionID:   core.SessionIDFromContext(ctx),
		OutputKey:   m.opts.OutputKey,
		Tools:       m.opts.Tools,
	})
	out, err := core.Drain(ctx, events, errs)
	if err != nil {
		if core.IsCancellation(err) && ctx.Err() != nil {
			return nil, err
		}
		m.logger.Error("agent.inference.failed", "error", err)
		return core.ResultFromError(m.Name(), err), nil
	}

	fields := map[string]any{
		core.KeyAgent:     m.Name(),
		core.KeyResponse:  out.Text(nil, m.Name()),
		core.KeyLLMResult: out.Result(),
	}
	if !out.Actions.IsZero() {
		fields[core.KeyEventActions] = out.Actions.Map()
	}
	return core.Success(fields), nil
}
