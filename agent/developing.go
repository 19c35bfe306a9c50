package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/devmesh/audit"
	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/delegation"
	"github.com/hupe1980/devmesh/tool"
)

// Developing agent actions.
const (
	ActionExecuteCode   = "execute_code"
	ActionSaveWebAssets = "save_web_assets"
)

// DevelopingInstruction is the default instruction of an inference-backed
// developing agent.
const DevelopingInstruction = "You are a specialized code generation and modification agent. " +
	"When you need to execute code, use the code_execution_agent tool which provides secure, sandboxed execution."

// DevelopingOptions configures a DevelopingAgent.
type DevelopingOptions struct {
	Common
	Name string
	// Inference backs generation. Nil selects the deterministic scaffold.
	Inference   core.Inference
	Instruction string
	// Tools are offered to the inference capability in addition to the
	// executor, which is always exposed as a tool.
	Tools     []core.Tool
	Artifacts core.ArtifactStore
	Audit     audit.Sink
}

// DevelopingAgent generates code, runs snippets through the code execution
// agent and persists generated web assets.
type DevelopingAgent struct {
	BaseAgent
	executor  core.Agent
	protocol  *delegation.Protocol
	inference core.Inference
	opts      DevelopingOptions
}

// NewDevelopingAgent creates a developing agent delegating code execution to
// executor through protocol.
func NewDevelopingAgent(executor core.Agent, protocol *delegation.Protocol, optFns ...func(o *DevelopingOptions)) *DevelopingAgent {
	opts := DevelopingOptions{
		Name:        DevelopingAgentName,
		Instruction: DevelopingInstruction,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if protocol == nil {
		protocol = delegation.New(nil)
	}
	backing := core.BackingScaffold
	if opts.Inference != nil {
		backing = core.BackingLLM
	}
	a := &DevelopingAgent{
		BaseAgent: NewBaseAgent(opts.Name, "Code generation and modification", backing, opts.Common),
		executor:  executor,
		protocol:  protocol,
		inference: opts.Inference,
		opts:      opts,
	}
	if executor != nil {
		a.setSubAgents(executor)
	}
	return a
}

// Run implements core.Agent.
func (a *DevelopingAgent) Run(ctx context.Context, req core.Request) (res core.Result, err error) {
	ctx, done := a.begin(ctx, req)
	defer func() { done(res, err) }()

	switch req.Action() {
	case ActionExecuteCode:
		if a.executor == nil {
			return core.NotImplemented(a.Name(), "no code execution agent configured"), nil
		}
		return a.protocol.Delegate(ctx, a.Name(), a.executor, requestFrom(ctx, req))
	case ActionSaveWebAssets:
		return a.saveWebAssets(ctx, req)
	default:
		return a.generate(ctx, req)
	}
}

func (a *DevelopingAgent) generate(ctx context.Context, req core.Request) (core.Result, error) {
	if a.inference == nil {
		return core.Success(map[string]any{
			core.KeyAgent: a.Name(),
			core.KeyLLMResult: map[string]any{
				core.KeyResponse: scaffoldResponse(req),
				"mode":           string(core.BackingScaffold),
			},
		}), nil
	}

	tools := append([]core.Tool(nil), a.opts.Tools...)
	if a.executor != nil {
		tools = append(tools, tool.NewAgentTool(a.executor, map[string]any{
			"type": "object",
			"properties": map[string]any{
				core.KeyCode: map[string]any{"type": "string", "description": "Source code to execute"},
			},
			"required": []string{core.KeyCode},
		}))
	}

	events, errs := a.inference.Invoke(ctx, core.InferenceInput{
		Agent:       a.Name(),
		Description: a.Description(),
		Instruction: a.opts.Instruction,
		Request:     req,
		SessionID:   core.SessionIDFromContext(ctx),
		Tools:       tools,
	})
	out, err := core.Drain(ctx, events, errs)
	if err != nil {
		if core.IsCancellation(err) && ctx.Err() != nil {
			return nil, err
		}
		a.logger.Error("agent.generate.failed", "error", err)
		return core.ResultFromError(a.Name(), err), nil
	}
	return core.Success(map[string]any{
		core.KeyAgent:     a.Name(),
		core.KeyLLMResult: out.Result(),
	}), nil
}

// saveWebAssets stores every asset as an artifact of the session. The first
// failure stops the batch; assets saved before it stay saved.
func (a *DevelopingAgent) saveWebAssets(ctx context.Context, req core.Request) (core.Result, error) {
	sessionID := req.SessionID()
	if sessionID == "" {
		return a.fail("session_id is required to save web assets"), nil
	}
	assets, ok := req[core.KeyAssets].([]any)
	if !ok {
		if typed, isMaps := req[core.KeyAssets].([]map[string]any); isMaps {
			for _, m := range typed {
				assets = append(assets, m)
			}
		}
	}
	if len(assets) == 0 {
		return a.fail("assets must be a non-empty list"), nil
	}
	if a.opts.Artifacts == nil {
		return core.NotImplemented(a.Name(), "no artifact store configured"), nil
	}

	saved := make([]map[string]any, 0, len(assets))
	for i, raw := range assets {
		asset, ok := raw.(map[string]any)
		if !ok {
			return a.fail(fmt.Sprintf("asset %d is not an object", i)), nil
		}
		name, _ := asset["name"].(string)
		if name == "" {
			return a.fail(fmt.Sprintf("asset %d has no name", i)), nil
		}
		content, err := assetBytes(asset["content"])
		if err != nil {
			return a.fail(fmt.Sprintf("failed to save asset %s: %v", name, err)), nil
		}
		meta := map[string]string{"agent": a.Name()}
		if ct, _ := asset["content_type"].(string); ct != "" {
			meta["content_type"] = ct
		}

		info, err := a.opts.Artifacts.Save(ctx, sessionID, name, content, meta)
		if err != nil {
			if core.IsCancellation(err) && ctx.Err() != nil {
				return nil, err
			}
			a.logger.Error("agent.assets.save_failed", "asset", name, "error", err)
			r := a.fail(fmt.Sprintf("failed to save asset %s: %v", name, err))
			r["artifacts"] = saved
			return r, nil
		}
		saved = append(saved, map[string]any{
			"name":        info.Name,
			"artifact_id": info.ID,
			"version":     info.Version,
		})
		if aerr := audit.Record(context.WithoutCancel(ctx), a.opts.Audit, audit.Entry{
			SessionID: sessionID,
			Actor:     a.Name(),
			Action:    audit.ActionArtifactSave,
			Resource:  name,
			Details:   map[string]any{"version": info.Version, "size": info.Size},
		}); aerr != nil {
			a.logger.Warn("agent.assets.audit_failed", "error", aerr)
		}
	}

	return core.Success(map[string]any{
		core.KeyAgent: a.Name(),
		"artifacts":   saved,
	}), nil
}

func (a *DevelopingAgent) fail(msg string) core.Result {
	return core.ErrorResultWith(msg, map[string]any{core.KeyAgent: a.Name()})
}

// assetBytes encodes asset content. Strings are stored as UTF-8.
func assetBytes(v any) ([]byte, error) {
	switch c := v.(type) {
	case string:
		return []byte(c), nil
	case []byte:
		return c, nil
	case nil:
		return nil, fmt.Errorf("missing content")
	default:
		return nil, fmt.Errorf("unsupported content type %T", v)
	}
}

func scaffoldResponse(req core.Request) string {
	task := req.TaskDescription()
	if task == "" {
		return "Development request received."
	}
	return "Development request received: " + task
}
