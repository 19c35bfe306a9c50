// Package devmesh assembles the multi-agent development mesh from a
// config.Config: the code execution agent, the developing agent and the
// orchestrator, plus the session, artifact, audit, memory and observability
// collaborators they share.
//
// Most applications build a Mesh with New and either serve it over HTTP
// (Mesh.Server) or call Orchestrate and Execute directly:
//
//	cfg, _ := config.Load("")
//	mesh, err := devmesh.New(ctx, cfg)
//	if err != nil { ... }
//	defer mesh.Close(ctx)
//	res, err := mesh.Orchestrate(ctx, core.Request{"message": "build a landing page"})
package devmesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hupe1980/devmesh/agent"
	"github.com/hupe1980/devmesh/artifact"
	artifacts3 "github.com/hupe1980/devmesh/artifact/s3"
	"github.com/hupe1980/devmesh/audit"
	"github.com/hupe1980/devmesh/code"
	"github.com/hupe1980/devmesh/config"
	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/delegation"
	"github.com/hupe1980/devmesh/logging"
	"github.com/hupe1980/devmesh/memory"
	"github.com/hupe1980/devmesh/model"
	"github.com/hupe1980/devmesh/model/anthropic"
	"github.com/hupe1980/devmesh/model/openai"
	"github.com/hupe1980/devmesh/observability"
	"github.com/hupe1980/devmesh/runner"
	"github.com/hupe1980/devmesh/security"
	"github.com/hupe1980/devmesh/server"
	"github.com/hupe1980/devmesh/session"
	"github.com/hupe1980/devmesh/tool"
)

// Version is reported to tracing backends.
const Version = "0.1.0"

// Options overrides collaborators that New would otherwise build from the
// configuration. Every field is optional.
type Options struct {
	Logger logging.Logger
	// Registry receives the Prometheus collectors. Defaults to a fresh
	// registry, which also backs /metrics.
	Registry *prometheus.Registry
	// Model replaces the configured LLM provider.
	Model model.Model
	// Executors replaces the local interpreter candidate.
	Executors []code.Factory
	// SessionStore replaces the configured session backend.
	SessionStore core.SessionStore
	// ArtifactStore replaces the configured artifact backend.
	ArtifactStore core.ArtifactStore
	// Tools are registered next to the built-in tools and offered to the
	// inference-backed agents.
	Tools []core.Tool
	// Agents are extra agents usable from pipeline definitions and through
	// the runner. They are instrumented with metrics and tracing.
	Agents []core.Agent
}

// Mesh is an assembled agent mesh.
type Mesh struct {
	Config    *config.Config
	Logger    logging.Logger
	Registry  *prometheus.Registry
	Metrics   *observability.Metrics
	Tracer    *observability.TracerProvider
	Guard     *security.Guard
	State     *session.StateStore
	Artifacts core.ArtifactStore
	// AuditLog is the queryable in-memory audit ring. Audit additionally
	// fans out to the AMQP publisher when configured.
	AuditLog *audit.Memory
	Audit    audit.Sink
	Memory   memory.Store
	Tools    *tool.Registry
	Protocol *delegation.Protocol

	Executor     *agent.CodeExecutionAgent
	Developer    *agent.DevelopingAgent
	Orchestrator *agent.Orchestrator
	// Pipeline is the workflow loaded from agents.pipeline_file, if any.
	Pipeline core.Agent
	Runner   *runner.Runner

	closers []func(ctx context.Context) error
}

// New builds a mesh from cfg. A nil cfg uses config.Default.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Mesh, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Mesh{Config: cfg, Logger: opts.Logger}
	if m.Logger == nil {
		l, err := NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		m.Logger = l
	}

	if err := m.buildObservability(ctx, opts); err != nil {
		return nil, m.abort(ctx, err)
	}
	m.Guard = security.New(security.Config{
		Enabled:         cfg.Security.Enabled,
		MaxRequestChars: cfg.Security.MaxRequestChars,
		MaxToolCodeLen:  cfg.Security.MaxToolCodeLen,
		BlockPII:        cfg.Security.BlockPII,
		BlockSecrets:    cfg.Security.BlockSecrets,
	}, func(o *security.Options) { o.Metrics = m.Metrics })

	if err := m.buildStores(ctx, opts); err != nil {
		return nil, m.abort(ctx, err)
	}
	if err := m.buildTools(opts); err != nil {
		return nil, m.abort(ctx, err)
	}
	if err := m.buildAgents(opts); err != nil {
		return nil, m.abort(ctx, err)
	}
	return m, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = cfg.Format
	lc.Component = "devmesh"
	return logging.New(lc), nil
}

func (m *Mesh) buildObservability(ctx context.Context, opts Options) error {
	cfg := m.Config.Observability
	m.Registry = opts.Registry
	if m.Registry == nil {
		m.Registry = prometheus.NewRegistry()
	}
	if cfg.Metrics {
		m.Metrics = observability.MustNewMetrics(m.Registry)
	}

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRatio:    cfg.SampleRatio,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	m.Tracer = tp
	m.closers = append(m.closers, tp.Shutdown)
	return nil
}

func (m *Mesh) buildStores(ctx context.Context, opts Options) error {
	cfg := m.Config

	backend := opts.SessionStore
	if backend == nil {
		switch cfg.Session.Backend {
		case "redis":
			rs, err := session.DialRedis(ctx, cfg.Session.Redis.URL, func(o *session.RedisOptions) {
				o.KeyPrefix = cfg.Session.Redis.KeyPrefix
				o.TTL = cfg.Session.Timeout()
			})
			if err != nil {
				return fmt.Errorf("session store: %w", err)
			}
			m.closers = append(m.closers, func(context.Context) error { return rs.Close() })
			backend = rs
		default:
			backend = session.NewInMemoryStore(func(o *session.InMemoryOptions) {
				o.MaxSessions = cfg.Session.MaxSessions
				o.TTL = cfg.Session.Timeout()
			})
		}
	}
	m.State = session.NewStateStore(backend, func(l *session.LogLimits) {
		l.Delegations = cfg.Session.LogLimits.Delegations
		l.Transfers = cfg.Session.LogLimits.Transfers
		l.ToolExecutions = cfg.Session.LogLimits.ToolExecutions
	})

	m.Artifacts = opts.ArtifactStore
	if m.Artifacts == nil {
		switch cfg.Artifacts.Backend {
		case "s3":
			store, err := artifacts3.NewFromConfig(ctx, artifacts3.Config{
				Bucket:   cfg.Artifacts.Bucket,
				Prefix:   cfg.Artifacts.Prefix,
				Region:   cfg.Artifacts.Region,
				Endpoint: cfg.Artifacts.Endpoint,
			})
			if err != nil {
				return fmt.Errorf("artifact store: %w", err)
			}
			m.Artifacts = store
		default:
			m.Artifacts = artifact.NewInMemoryStore()
		}
	}

	m.AuditLog = audit.NewMemory(cfg.Audit.MaxEntries)
	m.Audit = m.AuditLog
	if cfg.Audit.Backend == "amqp" {
		sink, err := audit.DialAMQP(audit.AMQPConfig{
			URL:      cfg.Audit.AMQPURL,
			Exchange: cfg.Audit.Exchange,
			Queue:    cfg.Audit.Queue,
		})
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		m.closers = append(m.closers, func(context.Context) error { return sink.Close() })
		m.Audit = audit.Multi{m.AuditLog, sink}
	}

	if cfg.Memory.Enabled {
		m.Memory = memory.NewInMemoryStore(cfg.Memory.MaxEntries)
	}
	return nil
}

func (m *Mesh) buildTools(opts Options) error {
	cfg := m.Config.Tools
	m.Tools = tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Guard = m.Guard
		o.State = m.State
		o.Metrics = m.Metrics
		o.Logger = m.Logger
		o.CacheSize = cfg.CacheSize
	})

	throttle := func(o *tool.RegisterOptions) {
		if cfg.RateLimitPerMinute > 0 {
			o.Rate = rate.Limit(float64(cfg.RateLimitPerMinute) / 60)
			o.Burst = cfg.Burst
		}
	}

	tools := append([]core.Tool(nil), opts.Tools...)
	// exit_loop is a no-op unless the caller runs inside a loop agent.
	tools = append(tools, tool.NewExitLoopTool())
	if m.Memory != nil {
		withState := func(o *memory.ToolOptions) { o.State = m.State }
		tools = append(tools, memory.NewLoadTool(m.Memory, withState), memory.NewSaveTool(m.Memory, withState))
	}
	for _, t := range tools {
		if err := m.Tools.Register(t, throttle); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mesh) buildAgents(opts Options) error {
	cfg := m.Config
	common := agent.Common{Logger: m.Logger, Metrics: m.Metrics, Tracer: m.Tracer}

	m.Protocol = delegation.New(m.State, func(o *delegation.Options) {
		o.Metrics = m.Metrics
		o.Tracer = m.Tracer
		o.Audit = m.Audit
		o.Logger = m.Logger
	})

	executors := opts.Executors
	if len(executors) == 0 {
		executors = []code.Factory{processFactory(cfg.Execution)}
	}
	m.Executor = agent.NewCodeExecutionAgent(code.NewCandidates(executors...), func(o *agent.CodeExecutionOptions) {
		o.Common = common
		o.MaxCodeLen = cfg.Execution.MaxCodeLen
		o.Timeout = cfg.Execution.Timeout()
		o.Audit = m.Audit
	})

	inference, err := m.inference(opts)
	if err != nil {
		return err
	}
	tools := m.Tools.Guarded()

	m.Developer = agent.NewDevelopingAgent(m.Executor, m.Protocol, func(o *agent.DevelopingOptions) {
		o.Common = common
		o.Inference = inference
		o.Tools = tools
		o.Artifacts = m.Artifacts
		o.Audit = m.Audit
	})
	m.Orchestrator = agent.NewOrchestrator(m.Executor, m.Developer, m.Protocol, func(o *agent.OrchestratorOptions) {
		o.Common = common
		o.Inference = inference
		o.Tools = tools
		o.Guard = m.Guard
		o.State = m.State
		o.FallbackResponse = cfg.Agents.FallbackResponse
		o.Audit = m.Audit
	})

	entries := []core.Agent{m.Orchestrator, m.Developer, m.Executor}
	for _, a := range opts.Agents {
		entries = append(entries, observability.Instrument(a, m.Metrics, m.Tracer))
	}

	if path := cfg.Agents.PipelineFile; path != "" {
		byName := make(map[string]core.Agent, len(entries))
		for _, a := range entries {
			byName[a.Name()] = a
		}
		p, err := agent.LoadPipelineFile(path, byName, func(o *agent.PipelineOptions) {
			o.Common = common
			o.MaxIterations = cfg.Agents.MaxIterations
		})
		if err != nil {
			return err
		}
		m.Pipeline = p
		entries = append(entries, p)
	}

	callbacks := []runner.Callback{
		runner.NewToolGuardCallback(m.Guard, m.Executor.Name(), security.CodeExecutorTool),
		runner.NewLoggingCallback(runner.CallbackAfterAgent, m.Logger),
		runner.NewLoggingCallback(runner.CallbackOnError, m.Logger),
	}
	// The orchestrator screens its own requests; everything reachable
	// beside the built-in agents is screened by the runner.
	if screened := agentNames(entries[3:]); len(screened) > 0 {
		callbacks = append(callbacks, runner.NewGuardCallback(m.Guard, screened...))
	}

	m.Runner, err = runner.New(entries, func(o *runner.Options) {
		o.MaxConcurrentInvocations = cfg.Agents.MaxConcurrentRuns
		o.MaxModelCalls = cfg.LLM.MaxCalls
		o.Default = m.Orchestrator.Name()
		o.Logger = m.Logger
		o.Callbacks = callbacks
	})
	return err
}

func agentNames(agents []core.Agent) []string {
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name())
	}
	return names
}

// inference returns nil when no provider is configured, which selects the
// scaffold variants.
func (m *Mesh) inference(opts Options) (core.Inference, error) {
	mdl := opts.Model
	if mdl == nil {
		var err error
		if mdl, err = newModel(m.Config.LLM); err != nil || mdl == nil {
			return nil, err
		}
	}
	m.Logger.Info("llm.configured", "model", mdl.Info().Name, "provider", mdl.Info().Provider)
	return model.NewInference(mdl, func(o *model.InferenceOptions) {
		o.State = m.State
		o.Metrics = m.Metrics
		o.Tracer = m.Tracer
		o.Logger = m.Logger
		o.MaxCalls = m.Config.LLM.MaxCalls
	}), nil
}

func newModel(cfg config.LLMConfig) (model.Model, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "mock":
		name := cfg.Model
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name, "mock"), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func processFactory(cfg config.ExecutionConfig) code.Factory {
	return code.Factory{
		Name: "process",
		New: func() (code.Executor, error) {
			p, err := code.NewProcessExecutor(code.ProcessOptions{
				Interpreter: cfg.Interpreter,
				Args:        cfg.InterpreterArgs,
				WorkDir:     cfg.WorkDir,
				Limits: code.Limits{
					Stateful:       cfg.Stateful,
					CPU:            cfg.CPU,
					Memory:         cfg.Memory,
					MaxOutputBytes: cfg.MaxOutputBytes,
				},
			})
			if err != nil {
				return nil, err
			}
			retry := code.DefaultRetryConfig()
			if cfg.RetryAttempts > 0 {
				retry.Attempts = cfg.RetryAttempts
			}
			return code.WithRetry(p, retry), nil
		},
	}
}

// Orchestrate runs the orchestrator.
func (m *Mesh) Orchestrate(ctx context.Context, req core.Request) (core.Result, error) {
	return m.Runner.Invoke(ctx, m.Orchestrator.Name(), req)
}

// Execute runs the code execution agent.
func (m *Mesh) Execute(ctx context.Context, req core.Request) (core.Result, error) {
	return m.Runner.Invoke(ctx, m.Executor.Name(), req)
}

// Server builds the HTTP and WebSocket server for the mesh.
func (m *Mesh) Server() (*server.Server, error) {
	return server.New(func(o *server.Options) {
		o.Config = m.Config.Server
		o.Runner = m.Runner
		o.State = m.State
		o.Artifacts = m.Artifacts
		o.Audit = m.Audit
		o.Metrics = m.Metrics
		if m.Metrics != nil {
			o.Gatherer = m.Registry
		}
		o.Logger = m.Logger
		o.Orchestrator = m.Orchestrator.Name()
		o.Executor = m.Executor.Name()
	})
}

// WatchSessions publishes the number of live sessions every interval until
// ctx is done.
func (m *Mesh) WatchSessions(ctx context.Context, interval time.Duration) {
	if m.Metrics == nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			list, err := m.State.Backend().List(ctx)
			if err != nil {
				m.Logger.Warn("session.watch.failed", "error", err)
				continue
			}
			active := 0
			for _, s := range list {
				if s.Status != core.SessionClosed {
					active++
				}
			}
			m.Metrics.SetActiveSessions(active)
		}
	}
}

// Close releases the backends in reverse order of creation.
func (m *Mesh) Close(ctx context.Context) error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func (m *Mesh) abort(ctx context.Context, err error) error {
	if cerr := m.Close(ctx); cerr != nil {
		m.Logger.Warn("mesh.close.failed", "error", cerr)
	}
	return err
}
