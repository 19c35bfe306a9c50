package agent

import (
	"context"
	"slices"
	"strings"

	"github.com/hupe1980/devmesh/audit"
	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/delegation"
	"github.com/hupe1980/devmesh/internal/util"
	"github.com/hupe1980/devmesh/security"
	"github.com/hupe1980/devmesh/session"
	"github.com/hupe1980/devmesh/tool"
)

// DefaultFallbackResponse is rendered when no text can be extracted from a
// Result. It sees the fields Agent and Status.
const DefaultFallbackResponse = "Request processed by {{.Agent}} with status {{.Status}}."

// OrchestratorInstruction is the default instruction of an inference-backed
// orchestrator.
const OrchestratorInstruction = "You are the central orchestrator. When you receive complex development tasks " +
	"that require code generation or modification, delegate to the developing agent using transfer_to_agent. " +
	"For simple code execution requests, use the code_execution_agent tool directly."

// DevelopmentTaskTypes are the task_type values routed to the developer.
var DevelopmentTaskTypes = []string{"code_generation", "development"}

// Classifier decides whether a request is development work.
type Classifier interface {
	IsDevelopment(req core.Request) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(req core.Request) bool

// IsDevelopment implements Classifier.
func (f ClassifierFunc) IsDevelopment(req core.Request) bool { return f(req) }

// KeywordClassifier flags requests whose message mentions any keyword.
type KeywordClassifier struct {
	Keywords []string
}

// DefaultKeywordClassifier matches generation verbs.
func DefaultKeywordClassifier() KeywordClassifier {
	return KeywordClassifier{Keywords: []string{"create", "generate", "write", "implement"}}
}

// IsDevelopment implements Classifier.
func (k KeywordClassifier) IsDevelopment(req core.Request) bool {
	text := strings.ToLower(strings.Join([]string{
		req.String(core.KeyMessage), req.String("prompt"), req.String(core.KeyDescription),
	}, " "))
	for _, kw := range k.Keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Common
	Name string
	// Inference backs the orchestrator. Nil selects the scaffold.
	Inference   core.Inference
	Instruction string
	Tools       []core.Tool
	// SubAgents are additional transfer targets. The developer is always one.
	SubAgents []core.Agent
	Guard     *security.Guard
	// Classifier routes development work to the developer. Scaffold-backed
	// orchestrators default to DefaultKeywordClassifier; inference-backed ones
	// leave the decision to the model unless a classifier is set.
	Classifier Classifier
	// State resolves "<agent>_response" when extracting the response text.
	State            *session.StateStore
	FallbackResponse string
	Audit            audit.Sink
}

// Orchestrator is the human interaction agent. It screens requests, runs
// code directly, routes development work to the developer and follows
// transfers requested by its inference capability. Every Result it returns
// carries a non-empty "response".
type Orchestrator struct {
	BaseAgent
	executor  core.Agent
	developer core.Agent
	protocol  *delegation.Protocol
	opts      OrchestratorOptions
}

// NewOrchestrator creates the orchestrator. executor and developer may be
// nil.
func NewOrchestrator(executor, developer core.Agent, protocol *delegation.Protocol, optFns ...func(o *OrchestratorOptions)) *Orchestrator {
	opts := OrchestratorOptions{
		Name:             OrchestratorName,
		Instruction:      OrchestratorInstruction,
		FallbackResponse: DefaultFallbackResponse,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Classifier == nil && opts.Inference == nil {
		opts.Classifier = DefaultKeywordClassifier()
	}
	if opts.FallbackResponse == "" {
		opts.FallbackResponse = DefaultFallbackResponse
	}
	if protocol == nil {
		protocol = delegation.New(opts.State)
	}
	backing := core.BackingScaffold
	if opts.Inference != nil {
		backing = core.BackingLLM
	}

	o := &Orchestrator{
		BaseAgent: NewBaseAgent(opts.Name, "Central orchestrator", backing, opts.Common),
		executor:  executor,
		developer: developer,
		protocol:  protocol,
		opts:      opts,
	}
	var subs []core.Agent
	for _, a := range append([]core.Agent{executor, developer}, opts.SubAgents...) {
		if a != nil && !slices.ContainsFunc(subs, func(s core.Agent) bool { return s.Name() == a.Name() }) {
			subs = append(subs, a)
		}
	}
	o.setSubAgents(subs...)
	return o
}

// Run implements core.Agent.
func (o *Orchestrator) Run(ctx context.Context, req core.Request) (res core.Result, err error) {
	ctx, done := o.begin(ctx, req)
	defer func() { done(res, err) }()

	if blocked := o.opts.Guard.CheckRequest(req); blocked != nil {
		o.logger.Warn("orchestrator.blocked", "reason", blocked[core.KeyReason])
		o.audit(ctx, audit.ActionBlocked, "", map[string]any{core.KeyReason: blocked[core.KeyReason]})
		reason, _ := blocked[core.KeyReason].(string)
		return o.respond(ctx, blocked.With(core.KeyAgent, o.Name()), "Request blocked: "+reason, false), nil
	}

	task := requestFrom(ctx, req)

	if req.Action() == ActionExecuteCode {
		if o.executor == nil {
			r := core.NotImplemented(o.Name(), "no code execution agent configured")
			return o.respond(ctx, r, r, false), nil
		}
		env, err := o.protocol.Delegate(ctx, o.Name(), o.executor, task)
		if err != nil {
			return nil, err
		}
		return o.respond(ctx, env, env, false), nil
	}

	if o.developer != nil && o.isDevelopment(req) {
		o.logger.Debug("orchestrator.route.developer")
		env, err := o.protocol.Delegate(ctx, o.Name(), o.developer, task)
		if err != nil {
			return nil, err
		}
		return o.respond(ctx, env, env, false), nil
	}

	if o.opts.Inference != nil {
		return o.infer(ctx, task)
	}

	r := core.Received(map[string]any{core.KeyAgent: o.Name(), "request": map[string]any(req)})
	return o.respond(ctx, r, nil, false), nil
}

func (o *Orchestrator) isDevelopment(req core.Request) bool {
	if slices.Contains(DevelopmentTaskTypes, req.String(core.KeyTaskType)) {
		return true
	}
	return o.opts.Classifier != nil && o.opts.Classifier.IsDevelopment(req)
}

func (o *Orchestrator) infer(ctx context.Context, req core.Request) (core.Result, error) {
	tools := append([]core.Tool(nil), o.opts.Tools...)
	if o.executor != nil {
		tools = append(tools, tool.NewAgentTool(o.executor, map[string]any{
			"type": "object",
			"properties": map[string]any{
				core.KeyCode: map[string]any{"type": "string", "description": "Source code to execute"},
			},
			"required": []string{core.KeyCode},
		}))
	}
	if len(o.SubAgents()) > 0 {
		tools = append(tools, tool.NewTransferToAgentTool())
	}

	sessionID := req.SessionID()
	events, errs := o.opts.Inference.Invoke(ctx, core.InferenceInput{
		Agent:       o.Name(),
		Description: o.Description(),
		Instruction: o.opts.Instruction,
		Request:     req,
		SessionID:   sessionID,
		Tools:       tools,
	})
	out, err := core.Drain(ctx, events, errs)
	if err != nil {
		if core.IsCancellation(err) && ctx.Err() != nil {
			return nil, err
		}
		o.logger.Error("orchestrator.inference.failed", "error", err)
		r := core.ResultFromError(o.Name(), err)
		return o.respond(ctx, r, r, false), nil
	}

	if target := out.Actions.TransferTarget(); target != "" {
		if sub := o.transferTarget(target); sub != nil {
			if _, err := o.protocol.Transfer(ctx, o.Name(), sub.Name(), sessionID, "transfer_to_agent requested by inference"); err != nil {
				o.logger.Warn("orchestrator.transfer.record_failed", "target", target, "error", err)
			}
			env, err := o.protocol.Delegate(ctx, o.Name(), sub, req)
			if err != nil {
				return nil, err
			}
			return o.respond(ctx, env, env, false), nil
		}
		o.logger.Warn("orchestrator.transfer.unknown_target", "target", target)
	}

	llm := out.Result()
	r := core.Success(map[string]any{core.KeyAgent: o.Name(), core.KeyLLMResult: llm})
	return o.respond(ctx, r, out, true), nil
}

// transferTarget returns the configured sub-agent named name. The
// orchestrator itself is never a target.
func (o *Orchestrator) transferTarget(name string) core.Agent {
	if name == o.Name() {
		return nil
	}
	for _, a := range o.SubAgents() {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// respond sets the "response" text of res. Text is extracted from source;
// when useState is set the session's "<agent>_response" key takes priority.
// Without usable text the fallback template is rendered.
func (o *Orchestrator) respond(ctx context.Context, res core.Result, source any, useState bool) core.Result {
	var state map[string]any
	if useState && o.opts.State != nil {
		if sid := core.SessionIDFromContext(ctx); sid != "" {
			if sess, err := o.opts.State.Get(ctx, sid); err == nil {
				state = sess.Snapshot()
			}
		}
	}

	text := ""
	if source != nil || state != nil {
		text = core.ExtractText(source, state, o.Name())
	}
	if text == "" {
		rendered, err := util.RenderTemplate(o.opts.FallbackResponse, map[string]any{
			"Agent":  o.Name(),
			"Status": res.Status(),
		})
		if err != nil || strings.TrimSpace(rendered) == "" {
			o.logger.Warn("orchestrator.fallback.template_failed", "error", err)
			rendered = "Request processed by " + o.Name() + " with status " + res.Status() + "."
		}
		text = rendered
	}
	return res.With(core.KeyResponse, text)
}

func (o *Orchestrator) audit(ctx context.Context, action, resource string, details map[string]any) {
	if err := audit.Record(context.WithoutCancel(ctx), o.opts.Audit, audit.Entry{
		SessionID: core.SessionIDFromContext(ctx),
		Actor:     o.Name(),
		Action:    action,
		Resource:  resource,
		Details:   details,
	}); err != nil {
		o.logger.Warn("orchestrator.audit.failed", "error", err)
	}
}
