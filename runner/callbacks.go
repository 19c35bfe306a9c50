package runner

import (
	"context"
	"slices"
	"sync"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/logging"
	"github.com/hupe1980/devmesh/security"
)

// CallbackType names the lifecycle point a callback runs at.
type CallbackType string

const (
	// CallbackBeforeAgent runs before the agent. Setting
	// CallbackContext.Result skips the agent and returns that result.
	CallbackBeforeAgent CallbackType = "before_agent"
	// CallbackAfterAgent runs after the agent. It may replace
	// CallbackContext.Result.
	CallbackAfterAgent CallbackType = "after_agent"
	// CallbackOnError runs when an invocation ends with an error result or
	// is cancelled.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext is what a callback sees of an invocation.
type CallbackContext struct {
	RunID     string
	Agent     string
	SessionID string
	Request   core.Request
	// Result is nil before the agent ran unless a before callback set it.
	Result core.Result
	// Err is the cancellation error for on_error callbacks.
	Err error
}

// Callback hooks into the invocation lifecycle. Returning an error aborts
// the invocation with an error result.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback adapts a function to Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

// NewFunctionCallback creates a callback of type t.
func NewFunctionCallback(t CallbackType, fn func(ctx context.Context, cc *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: t, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager keeps callbacks per type and runs them in registration
// order. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// Register adds callbacks.
func (cm *CallbackManager) Register(callbacks ...Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
		}
	}
}

// Execute runs the callbacks of type t and stops at the first error. Before
// callbacks also stop once one of them sets a result.
func (cm *CallbackManager) Execute(ctx context.Context, t CallbackType, cc *CallbackContext) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[t]...)
	cm.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cc); err != nil {
			return err
		}
		if t == CallbackBeforeAgent && cc.Result != nil {
			return nil
		}
	}
	return nil
}

// NewLoggingCallback logs every invocation at debug level.
func NewLoggingCallback(t CallbackType, logger logging.Logger) Callback {
	logger = logging.OrNoOp(logger)
	return NewFunctionCallback(t, func(_ context.Context, cc *CallbackContext) error {
		args := []any{"run_id", cc.RunID, "agent", cc.Agent, "session_id", cc.SessionID}
		if cc.Result != nil {
			args = append(args, "status", cc.Result.Status())
		}
		if cc.Err != nil {
			args = append(args, "error", cc.Err)
		}
		logger.Debug("runner."+string(t), args...)
		return nil
	})
}

// NewGuardCallback screens requests with g before the agent runs. Blocked
// requests never reach the agent. Without agent names every agent is
// screened.
func NewGuardCallback(g *security.Guard, agents ...string) Callback {
	return NewFunctionCallback(CallbackBeforeAgent, func(_ context.Context, cc *CallbackContext) error {
		if len(agents) > 0 && !slices.Contains(agents, cc.Agent) {
			return nil
		}
		if blocked := g.CheckRequest(cc.Request); blocked != nil {
			cc.Result = blocked
		}
		return nil
	})
}

// NewToolGuardCallback screens requests to the agent exposed as tool name
// with the guard's tool checks.
func NewToolGuardCallback(g *security.Guard, agent, tool string) Callback {
	return NewFunctionCallback(CallbackBeforeAgent, func(_ context.Context, cc *CallbackContext) error {
		if cc.Agent != agent {
			return nil
		}
		if blocked := g.CheckTool(tool, cc.Request); blocked != nil {
			cc.Result = blocked
		}
		return nil
	})
}

// NewStateValidationCallback rejects results whose state delta fails
// validate.
func NewStateValidationCallback(validate func(delta map[string]any) error) Callback {
	return NewFunctionCallback(CallbackAfterAgent, func(_ context.Context, cc *CallbackContext) error {
		actions, ok := core.ActionsOf(cc.Result)
		if !ok || len(actions.StateDelta) == 0 {
			return nil
		}
		return validate(actions.StateDelta)
	})
}
