package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/logging"
	"github.com/hupe1980/devmesh/observability"
	"github.com/hupe1980/devmesh/security"
	"github.com/hupe1980/devmesh/session"
)

// DefaultCacheSize bounds the result cache of cacheable tools.
const DefaultCacheSize = 256

// RegistryOptions configures the collaborators of a Registry. Every field is
// optional.
type RegistryOptions struct {
	Guard     *security.Guard
	State     *session.StateStore
	Metrics   *observability.Metrics
	Logger    logging.Logger
	CacheSize int
}

// RegisterOptions configures a single registration.
type RegisterOptions struct {
	// Cacheable marks a pure tool whose results may be reused for identical
	// arguments.
	Cacheable bool
	// Rate and Burst throttle calls to the tool. Zero disables throttling.
	Rate  rate.Limit
	Burst int
}

type entry struct {
	tool      Tool
	cacheable bool
	limiter   *rate.Limiter
}

// Registry is the set of tools available to agents. Calls go through the
// security guard, an optional per-tool rate limit and an optional result
// cache. Each call is recorded in the session's tool_executions log when a
// session id is known.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	cache   *lru.Cache[string, core.Result]
	guard   *security.Guard
	state   *session.StateStore
	metrics *observability.Metrics
	logger  logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{CacheSize: DefaultCacheSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, core.Result](size) // only fails for size <= 0

	return &Registry{
		entries: make(map[string]*entry),
		cache:   cache,
		guard:   opts.Guard,
		state:   opts.State,
		metrics: opts.Metrics,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool, optFns ...func(o *RegisterOptions)) error {
	if t == nil || t.Name() == "" {
		return core.Errorf("tool must have a name")
	}
	opts := RegisterOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t.Name()]; exists {
		return core.Errorf("tool %q already registered", t.Name())
	}
	e := &entry{tool: t, cacheable: opts.Cacheable}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(opts.Rate, burst)
	}
	r.entries[t.Name()] = e
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(t Tool, optFns ...func(o *RegisterOptions)) {
	if err := r.Register(t, optFns...); err != nil {
		panic(err)
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Specs returns the advertisements of every registered tool.
func (r *Registry) Specs() []core.ToolSpec {
	tools := r.Tools()
	specs := make([]core.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = core.SpecOf(t)
	}
	return specs
}

// Guarded returns the registered tools wrapped so that every Call goes
// through the registry. Inference backends should receive these.
func (r *Registry) Guarded() []Tool {
	tools := r.Tools()
	out := make([]Tool, len(tools))
	for i, t := range tools {
		out[i] = guardedTool{Tool: t, registry: r}
	}
	return out
}

// Call runs the tool registered under name. Failures are reported in the
// Result; only a context cancellation is returned as error.
func (r *Registry) Call(ctx context.Context, name string, args core.Request) (res core.Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return NewToolError(name, "tool not found", CodeNotFound).Result(), nil
	}

	start := time.Now()
	sessionID := args.SessionID()
	if sessionID == "" {
		sessionID = core.SessionIDFromContext(ctx)
	}
	log := logging.With(r.logger, "tool", name, "session_id", sessionID)
	log.Debug("tool.call.start")

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("tool.call.panic", "panic", rec, "stack", string(debug.Stack()))
			res, err = NewToolError(name, fmt.Sprintf("tool panicked: %v", rec), CodePanic).Result(), nil
		}
		if res != nil {
			r.record(ctx, sessionID, name, res, time.Since(start))
		}
	}()

	if blocked := r.guard.CheckTool(name, args); blocked != nil {
		log.Warn("tool.call.blocked", "reason", blocked[core.KeyReason])
		return blocked, nil
	}

	if e.limiter != nil && !e.limiter.Allow() {
		log.Warn("tool.call.rate_limited")
		return NewToolError(name, "rate limit exceeded", CodeRateLimited).Result(), nil
	}

	var key string
	if e.cacheable {
		key = cacheKey(name, args)
		if cached, ok := r.cache.Get(key); ok && key != "" {
			log.Debug("tool.call.cache_hit")
			return maps.Clone(cached), nil
		}
	}

	res, err = e.tool.Call(ctx, args)
	if err != nil {
		if core.IsCancellation(err) && ctx.Err() != nil {
			return nil, err
		}
		res, err = asToolError(name, err).Result(), nil
	}
	if res == nil {
		res = NewToolError(name, "tool returned no result", CodeExecution).Result()
	}

	if e.cacheable && key != "" && !res.IsError() {
		r.cache.Add(key, res)
	}
	log.Debug("tool.call.done", "status", res.Status(), "duration", time.Since(start))
	return res, nil
}

func (r *Registry) record(ctx context.Context, sessionID, name string, res core.Result, d time.Duration) {
	r.metrics.ObserveToolCall(name, res.Status(), d)
	if r.state == nil || sessionID == "" {
		return
	}
	rec := core.ToolExecutionRecord{
		Tool:       name,
		Status:     res.Status(),
		DurationMS: d.Milliseconds(),
		Timestamp:  core.Timestamp(),
		Error:      res.ErrorMessage(),
	}
	if err := r.state.RecordToolExecution(context.WithoutCancel(ctx), sessionID, rec); err != nil {
		r.logger.Warn("tool.record.failed", "tool", name, "session_id", sessionID, "error", err)
	}
}

// cacheKey renders a stable key for name and args. encoding/json sorts map
// keys. Unencodable args are not cached.
func cacheKey(name string, args core.Request) string {
	b, err := json.Marshal(map[string]any(args))
	if err != nil {
		return ""
	}
	return name + ":" + string(b)
}

// guardedTool routes Call through the owning registry.
type guardedTool struct {
	Tool
	registry *Registry
}

func (g guardedTool) Call(ctx context.Context, args core.Request) (core.Result, error) {
	return g.registry.Call(ctx, g.Tool.Name(), args)
}
