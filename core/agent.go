package core

import "context"

// Agent defines the contract every devmesh agent implements.
//
// Run consumes a Request and always produces a Result. Failures of the agent
// itself (validation, capability errors, failed delegations) are reported in
// the Result with status "error" and never as a Go error. The error return is
// reserved for cancellation of ctx, which must travel upward unchanged so that
// callers can shut down cleanly instead of recording a bogus failure.
//
// Implementations must:
//   - Respect context cancellation on every blocking call
//   - Treat the incoming Request as read-only (use Request.With / Extend)
//   - Only write session keys they own or the shared coordination keys
type Agent interface {
	Name() string
	Description() string
	Run(ctx context.Context, req Request) (Result, error)
}

// Backing identifies how an agent produces its answers.
type Backing string

const (
	// BackingLLM marks agents driven by an inference capability.
	BackingLLM Backing = "llm"
	// BackingScaffold marks agents with deterministic built-in behaviour.
	BackingScaffold Backing = "scaffold"
)

// Backed is implemented by agents that expose their backing variant.
type Backed interface {
	Backing() Backing
}

// Composite is implemented by agents that manage sub-agents.
type Composite interface {
	SubAgents() []Agent
}

// AgentInfo is a descriptive snapshot of an agent used by diagnostics
// endpoints and logs.
type AgentInfo struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Backing        Backing  `json:"backing"`
	ExecutionCount int64    `json:"execution_count"`
	SubAgents      []string `json:"sub_agents,omitempty"`
}

// BackingOf reports the backing of a, defaulting to BackingScaffold for
// agents that do not implement Backed.
func BackingOf(a Agent) Backing {
	if b, ok := a.(Backed); ok {
		return b.Backing()
	}
	return BackingScaffold
}
