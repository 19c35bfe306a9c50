package tool

import (
	"context"

	"github.com/hupe1980/devmesh/core"
)

// AgentTool exposes an agent as a tool. The payload is forwarded as the
// agent request and the agent's Result is returned unchanged.
type AgentTool struct {
	agent  core.Agent
	params map[string]any
}

// NewAgentTool wraps a. Parameters default to an open object schema with an
// optional "message".
func NewAgentTool(a core.Agent, params map[string]any) *AgentTool {
	if params == nil {
		params = map[string]any{
			"type": "object",
			"properties": map[string]any{
				core.KeyMessage: map[string]any{"type": "string", "description": "Task for " + a.Name()},
			},
		}
	}
	return &AgentTool{agent: a, params: params}
}

// Name returns the wrapped agent's name.
func (t *AgentTool) Name() string { return t.agent.Name() }

// Description returns the wrapped agent's description.
func (t *AgentTool) Description() string { return t.agent.Description() }

// Parameters returns the schema of accepted payloads.
func (t *AgentTool) Parameters() map[string]any { return t.params }

// Call runs the agent through core.Invoke.
func (t *AgentTool) Call(ctx context.Context, payload core.Request) (core.Result, error) {
	return core.Invoke(ctx, t.agent, payload)
}
