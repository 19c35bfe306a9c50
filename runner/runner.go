package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/logging"
)

// Defaults.
const (
	DefaultMaxConcurrentInvocations = 10
	DefaultEventBufferSize          = 16
)

// ErrRunNotFound is returned by Cancel for unknown or finished runs.
var ErrRunNotFound = fmt.Errorf("run not found")

// Options holds the Runner configuration.
type Options struct {
	// MaxConcurrentInvocations bounds parallel invocations. Further calls
	// wait for a slot or their context.
	MaxConcurrentInvocations int
	// EventBufferSize is the progress channel capacity of Start.
	EventBufferSize int
	// MaxModelCalls is the LLM call budget of one invocation. Zero means
	// unlimited.
	MaxModelCalls int
	// Default names the agent used when Invoke gets an empty name.
	Default   string
	Callbacks []Callback
	Logger    logging.Logger
	// PanicHook receives agent panics recovered during a run. Nil logs
	// them as agent.panic.
	PanicHook core.PanicHook
}

// Stage is the lifecycle stage reported by Start.
type Stage string

// Stages.
const (
	StageStarted   Stage = "started"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
	StageCancelled Stage = "cancelled"
)

// Progress is one lifecycle notification of an asynchronous run. The final
// notification carries the Result, or Err when the run was cancelled.
type Progress struct {
	RunID  string
	Agent  string
	Stage  Stage
	Result core.Result
	Err    error
	Time   time.Time
}

// Final reports whether p is the last notification of its run.
func (p Progress) Final() bool { return p.Stage != StageStarted }

// Runner invokes named agents. Public methods are safe for concurrent use.
type Runner struct {
	mu     sync.RWMutex
	agents map[string]core.Agent
	active map[string]context.CancelFunc

	sem       *semaphore.Weighted
	callbacks *CallbackManager
	opts      Options
	logger    logging.Logger
}

// New creates a Runner for agents.
func New(agents []core.Agent, optFns ...func(o *Options)) (*Runner, error) {
	opts := Options{
		MaxConcurrentInvocations: DefaultMaxConcurrentInvocations,
		EventBufferSize:          DefaultEventBufferSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrentInvocations <= 0 {
		opts.MaxConcurrentInvocations = DefaultMaxConcurrentInvocations
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = DefaultEventBufferSize
	}

	r := &Runner{
		agents:    make(map[string]core.Agent, len(agents)),
		active:    make(map[string]context.CancelFunc),
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrentInvocations)),
		callbacks: NewCallbackManager(),
		opts:      opts,
		logger:    logging.OrNoOp(opts.Logger),
	}
	if r.opts.PanicHook == nil {
		r.opts.PanicHook = r.logPanic
	}
	r.callbacks.Register(opts.Callbacks...)
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	if opts.Default != "" {
		if _, ok := r.agents[opts.Default]; !ok {
			return nil, core.Errorf("default agent %q is not registered", opts.Default)
		}
	}
	return r, nil
}

func (r *Runner) logPanic(agent string, recovered any, stack []byte) {
	r.logger.Error("agent.panic", "agent", agent, "panic", fmt.Sprint(recovered), "stack", string(stack))
}

// Register adds an entry agent. Names must be unique.
func (r *Runner) Register(a core.Agent) error {
	if a == nil || a.Name() == "" {
		return core.Errorf("agent must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.Name()]; ok {
		return core.Errorf("agent %q already registered", a.Name())
	}
	r.agents[a.Name()] = a
	return nil
}

// Callbacks returns the callback manager.
func (r *Runner) Callbacks() *CallbackManager { return r.callbacks }

// Agents returns the registered agent names, sorted.
func (r *Runner) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Agent returns the agent registered under name.
func (r *Runner) Agent(name string) (core.Agent, bool) {
	if name == "" {
		name = r.opts.Default
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Invoke runs the named agent and waits for its result. The only errors are
// an unknown agent name and context cancellation.
func (r *Runner) Invoke(ctx context.Context, name string, req core.Request) (core.Result, error) {
	a, ok := r.Agent(name)
	if !ok {
		return nil, core.Errorf("unknown agent %q", name)
	}
	return r.invoke(ctx, core.NewID(), a, req)
}

// Start runs the named agent asynchronously. It returns the run id and a
// channel of progress notifications that is closed after the final one.
func (r *Runner) Start(ctx context.Context, name string, req core.Request) (string, <-chan Progress, error) {
	a, ok := r.Agent(name)
	if !ok {
		return "", nil, core.Errorf("unknown agent %q", name)
	}

	runID := core.NewID()
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active[runID] = cancel
	r.mu.Unlock()

	progress := make(chan Progress, r.opts.EventBufferSize)
	progress <- Progress{RunID: runID, Agent: a.Name(), Stage: StageStarted, Time: core.Now()}

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.active, runID)
			r.mu.Unlock()
			cancel()
			close(progress)
		}()

		res, err := r.invoke(runCtx, runID, a, req)
		p := Progress{RunID: runID, Agent: a.Name(), Result: res, Err: err, Time: core.Now()}
		switch {
		case err != nil:
			p.Stage = StageCancelled
		case res.Status() == core.StatusError:
			p.Stage = StageFailed
		default:
			p.Stage = StageCompleted
		}
		progress <- p
	}()

	return runID, progress, nil
}

// Cancel cancels a run started with Start.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, ok := r.active[runID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	cancel()
	return nil
}

// Active returns the ids of running asynchronous runs.
func (r *Runner) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Runner) invoke(ctx context.Context, runID string, a core.Agent, req core.Request) (core.Result, error) {
	if req == nil {
		req = core.Request{}
	}
	log := logging.With(r.logger, "run_id", runID, "agent", a.Name(), "session_id", req.SessionID())

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	if core.CallLimiterFromContext(ctx) == nil {
		ctx = core.WithCallLimiter(ctx, core.NewCallLimiter(r.opts.MaxModelCalls))
	}
	if core.PanicHookFromContext(ctx) == nil {
		ctx = core.WithPanicHook(ctx, r.opts.PanicHook)
	}
	if id := req.SessionID(); id != "" {
		ctx = core.WithSessionID(ctx, id)
	}

	cc := &CallbackContext{RunID: runID, Agent: a.Name(), SessionID: req.SessionID(), Request: req}
	if err := r.callbacks.Execute(ctx, CallbackBeforeAgent, cc); err != nil {
		log.Warn("runner.before_agent.failed", "error", err)
		return r.fail(ctx, cc, core.ErrorResultWith(err.Error(), map[string]any{core.KeyAgent: a.Name()})), nil
	}
	if cc.Result != nil {
		log.Info("runner.short_circuit", "status", cc.Result.Status())
		return cc.Result, nil
	}

	start := time.Now()
	res, err := core.Invoke(ctx, a, req)
	if err != nil {
		cc.Err = err
		_ = r.callbacks.Execute(context.WithoutCancel(ctx), CallbackOnError, cc)
		log.Info("runner.cancelled", "error", err)
		return nil, err
	}

	cc.Result = res
	if err := r.callbacks.Execute(ctx, CallbackAfterAgent, cc); err != nil {
		log.Warn("runner.after_agent.failed", "error", err)
		return r.fail(ctx, cc, core.ErrorResultWith(err.Error(), map[string]any{core.KeyAgent: a.Name()})), nil
	}
	if cc.Result.Status() == core.StatusError {
		return r.fail(ctx, cc, cc.Result), nil
	}

	log.Debug("runner.done", "status", cc.Result.Status(), "duration", time.Since(start))
	return cc.Result, nil
}

func (r *Runner) fail(ctx context.Context, cc *CallbackContext, res core.Result) core.Result {
	cc.Result = res
	if err := r.callbacks.Execute(ctx, CallbackOnError, cc); err != nil {
		r.logger.Warn("runner.on_error.failed", "run_id", cc.RunID, "error", err)
	}
	return cc.Result
}
