package tool

import (
	"context"

	"github.com/hupe1980/devmesh/core"
)

// ExitLoopName is the name of the loop exit tool.
const ExitLoopName = "exit_loop"

type exitLoopTool struct{}

// NewExitLoopTool returns a tool that asks the enclosing loop agent to stop
// after the current sub-agent. Outside a loop the call is a no-op.
func NewExitLoopTool() Tool { return exitLoopTool{} }

func (exitLoopTool) Name() string { return ExitLoopName }

func (exitLoopTool) Description() string {
	return "Stop the enclosing loop once the current step finishes. Call when the goal has been reached."
}

func (exitLoopTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{"type": "string", "description": "Why the loop should stop"},
		},
	}
}

func (exitLoopTool) Call(ctx context.Context, args core.Request) (core.Result, error) {
	lc := core.LoopControlFromContext(ctx)
	if lc == nil {
		return core.Success(map[string]any{"exit_requested": false, core.KeyReason: "not inside a loop"}), nil
	}
	lc.RequestExit(args.String(core.KeyReason))
	return core.Success(map[string]any{"exit_requested": true}), nil
}
