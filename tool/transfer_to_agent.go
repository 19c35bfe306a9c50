package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/devmesh/core"
)

// TransferToAgentName is the name of the transfer tool.
const TransferToAgentName = "transfer_to_agent"

// transferToAgentTool requests orchestration transfer to a named sub-agent.
// It does not run the target; the caller acts on the returned event actions.
type transferToAgentTool struct{}

// NewTransferToAgentTool constructs the transfer tool instance.
func NewTransferToAgentTool() Tool { return transferToAgentTool{} }

func (transferToAgentTool) Name() string { return TransferToAgentName }

func (transferToAgentTool) Description() string {
	return "Request transfer of control to another sub-agent by name. Use when another agent is better suited."
}

func (transferToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{"type": "string", "description": "Target agent name"},
			"reason":     map[string]any{"type": "string", "description": "Why the target is better suited"},
		},
		"required": []string{"agent_name"},
	}
}

func (t transferToAgentTool) Call(_ context.Context, args core.Request) (core.Result, error) {
	target := args.String("agent_name")
	if target == "" {
		// "agent" is accepted for older prompts.
		target = args.String("agent")
	}
	if target == "" {
		return NewToolError(t.Name(), "field 'agent_name' must be a non-empty string", CodeValidation).Result(), nil
	}

	actions := core.EventActions{TransferToAgent: &target}
	r := core.Success(map[string]any{
		core.KeyResult:       fmt.Sprintf("transfer to %s requested", target),
		core.KeyEventActions: actions.Map(),
	})
	if reason := args.String(core.KeyReason); reason != "" {
		r[core.KeyReason] = reason
	}
	return r, nil
}
