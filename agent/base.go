package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/logging"
	"github.com/hupe1980/devmesh/observability"
)

// Well-known agent names.
const (
	CodeExecutionAgentName = "code_execution_agent"
	DevelopingAgentName    = "developing_agent"
	OrchestratorName       = "human_interaction_agent"
	SequentialAgentName    = "sequential_agent"
	ParallelAgentName      = "parallel_agent"
	LoopAgentName          = "loop_agent"
)

// Common wires the ambient collaborators shared by every agent. Every field
// is optional.
type Common struct {
	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracer  *observability.TracerProvider
}

// BaseAgent bundles identity, backing, sub-agent bookkeeping and run
// accounting. Embed it in concrete agents and supply a Run method. All
// exported methods are goroutine-safe.
type BaseAgent struct {
	name        string
	description string
	backing     core.Backing
	executions  atomic.Int64

	mu        sync.RWMutex
	subAgents []core.Agent

	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.TracerProvider
}

// NewBaseAgent constructs a BaseAgent.
func NewBaseAgent(name, description string, backing core.Backing, common Common) BaseAgent {
	if backing == "" {
		backing = core.BackingScaffold
	}
	return BaseAgent{
		name:        name,
		description: description,
		backing:     backing,
		logger:      logging.With(logging.OrNoOp(common.Logger), "agent", name),
		metrics:     common.Metrics,
		tracer:      common.Tracer,
	}
}

// Name returns the agent name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns the agent description.
func (b *BaseAgent) Description() string { return b.description }

// Backing reports whether the agent is inference or scaffold backed.
func (b *BaseAgent) Backing() core.Backing { return b.backing }

// ExecutionCount returns how many runs the agent has started.
func (b *BaseAgent) ExecutionCount() int64 { return b.executions.Load() }

// SubAgents returns a copy of the managed sub-agents.
func (b *BaseAgent) SubAgents() []core.Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Agent, len(b.subAgents))
	copy(out, b.subAgents)
	return out
}

func (b *BaseAgent) setSubAgents(children ...core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subAgents = append([]core.Agent(nil), children...)
}

// FindAgent performs a depth-first search over the sub-agent tree and
// returns the first agent named name, or nil.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	return findAgent(b.SubAgents(), name)
}

func findAgent(agents []core.Agent, name string) core.Agent {
	for _, a := range agents {
		if a.Name() == name {
			return a
		}
		if c, ok := a.(core.Composite); ok {
			if found := findAgent(c.SubAgents(), name); found != nil {
				return found
			}
		}
	}
	return nil
}

// Info returns a descriptive snapshot of the agent.
func (b *BaseAgent) Info() core.AgentInfo {
	info := core.AgentInfo{
		Name:           b.name,
		Description:    b.description,
		Backing:        b.backing,
		ExecutionCount: b.executions.Load(),
	}
	for _, a := range b.SubAgents() {
		info.SubAgents = append(info.SubAgents, a.Name())
	}
	return info
}

// begin accounts for a run and returns the function that closes it.
func (b *BaseAgent) begin(ctx context.Context, req core.Request) (context.Context, func(res core.Result, err error)) {
	b.executions.Add(1)
	start := time.Now()
	sessionID := req.SessionID()
	if sessionID == "" {
		sessionID = core.SessionIDFromContext(ctx)
	}
	ctx = core.WithSessionID(ctx, sessionID)
	ctx, span := b.tracer.StartSpan(ctx, observability.SpanAgentRun, observability.AgentAttrs(b.name, sessionID)...)
	b.logger.Debug("agent.run.start", "session_id", sessionID)

	return ctx, func(res core.Result, err error) {
		defer span.End()
		status := res.Status()
		if err != nil {
			status = "cancelled"
			span.RecordError(err)
		}
		b.metrics.ObserveAgentRun(b.name, status, time.Since(start))
		b.logger.Debug("agent.run.done", "session_id", sessionID, "status", status, "duration", time.Since(start))
	}
}

// requestFrom builds the request handed to a sub-agent: a copy of req
// carrying the session id known from ctx.
func requestFrom(ctx context.Context, req core.Request) core.Request {
	out := req.Clone()
	if out.SessionID() == "" {
		if sid := core.SessionIDFromContext(ctx); sid != "" {
			out[core.KeySessionID] = sid
		}
	}
	return out
}
