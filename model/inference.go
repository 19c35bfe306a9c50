package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/internal/util"
	"github.com/hupe1980/devmesh/logging"
	"github.com/hupe1980/devmesh/observability"
	"github.com/hupe1980/devmesh/session"
)

// DefaultMaxToolRounds bounds the model/tool round trips of one invocation.
const DefaultMaxToolRounds = 8

// InferenceOptions configures an Inference. Every field is optional.
type InferenceOptions struct {
	// State is used to template instructions and to write the final answer
	// back under the output key.
	State   *session.StateStore
	Metrics *observability.Metrics
	Tracer  *observability.TracerProvider
	Logger  logging.Logger
	// MaxCalls is the LLM call budget of an invocation when the context does
	// not carry a core.CallLimiter. Zero means unlimited.
	MaxCalls int
	// MaxToolRounds bounds model/tool round trips.
	MaxToolRounds int
	// Stream requests partial chunks from the model.
	Stream bool
}

// Inference is the LLM-backed core.Inference. It renders the agent
// instruction against session state, runs the model, executes requested tools
// and feeds their responses back until the model produces a final answer or a
// tool hands control elsewhere.
type Inference struct {
	model   Model
	state   *session.StateStore
	metrics *observability.Metrics
	tracer  *observability.TracerProvider
	logger  logging.Logger
	opts    InferenceOptions
}

// NewInference wraps m.
func NewInference(m Model, optFns ...func(o *InferenceOptions)) *Inference {
	opts := InferenceOptions{MaxToolRounds: DefaultMaxToolRounds}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Inference{
		model:   m,
		state:   opts.State,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  logging.OrNoOp(opts.Logger),
		opts:    opts,
	}
}

// Info returns the wrapped model's metadata.
func (inf *Inference) Info() Info { return inf.model.Info() }

// Invoke implements core.Inference.
func (inf *Inference) Invoke(ctx context.Context, in core.InferenceInput) (<-chan core.Event, <-chan error) {
	events := make(chan core.Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		if err := inf.run(ctx, in, events); err != nil {
			errs <- err
		}
	}()
	return events, errs
}

func (inf *Inference) run(ctx context.Context, in core.InferenceInput, events chan<- core.Event) error {
	info := inf.model.Info()
	ctx, span := inf.tracer.StartSpan(ctx, observability.SpanLLMCall,
		append(observability.AgentAttrs(in.Agent, in.SessionID), attribute.String(observability.AttrModel, info.Name))...)
	defer span.End()

	log := logging.With(inf.logger, "agent", in.Agent, "model", info.Name, "session_id", in.SessionID)

	limiter := core.CallLimiterFromContext(ctx)
	if limiter == nil {
		limiter = core.NewCallLimiter(inf.opts.MaxCalls)
	}

	req := Request{
		Instructions: inf.instruction(ctx, in, log),
		Tools:        ToolDefinitions(in.Tools),
		Stream:       inf.opts.Stream,
	}
	if req.Instructions != "" {
		req.Contents = append(req.Contents, core.Content{Role: "system", Parts: []core.Part{core.TextPart{Text: req.Instructions}}})
	}
	req.Contents = append(req.Contents, core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: in.Request.Text()}}})

	tools := make(map[string]core.Tool, len(in.Tools))
	for _, t := range in.Tools {
		tools[t.Name()] = t
	}
	toolCtx := core.WithSessionID(ctx, in.SessionID)

	for round := 0; ; round++ {
		if round >= inf.opts.MaxToolRounds {
			return core.NewError(core.ErrExecutionFailure, fmt.Sprintf("model exceeded %d tool rounds", inf.opts.MaxToolRounds))
		}
		if err := limiter.Acquire(); err != nil {
			log.Warn("llm.call.limit", "calls", limiter.Count())
			return err
		}

		final, err := inf.generate(ctx, req, in.Agent, events)
		if err != nil {
			inf.metrics.IncLLMCall(info.Name, core.StatusError)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if core.IsCancellation(err) && ctx.Err() != nil {
				return err
			}
			log.Error("llm.call.failed", "error", err)
			return core.Wrap(core.ErrExecutionFailure, "inference failed", err)
		}
		inf.metrics.IncLLMCall(info.Name, core.StatusSuccess)

		calls := final.Content.FunctionCalls()
		if len(calls) == 0 {
			text := final.Content.Text()
			inf.writeBack(ctx, in, text, log)
			ev := core.NewMessageEvent(in.Agent, text)
			ev.Output = text
			if !emit(ctx, events, ev) {
				return ctx.Err()
			}
			log.Debug("llm.call.done", "rounds", round+1)
			return nil
		}

		callEvent := core.NewEvent(in.Agent)
		content := final.Content
		callEvent.Content = &content
		if !emit(ctx, events, callEvent) {
			return ctx.Err()
		}
		req.Contents = append(req.Contents, final.Content)

		handoff := false
		for _, call := range calls {
			res, err := inf.callTool(toolCtx, tools, call, log)
			if err != nil {
				return err
			}
			actions, _ := core.ActionsOf(res)
			if len(actions.StateDelta) > 0 && inf.state != nil && in.SessionID != "" {
				if err := inf.state.Apply(context.WithoutCancel(ctx), in.SessionID, actions.StateDelta); err != nil {
					log.Warn("llm.state_delta.failed", "error", err)
				}
			}

			rev := core.NewFunctionResponseEvent(in.Agent, call.ID, call.Name, res, nil)
			rev.Actions = actions
			if !emit(ctx, events, rev) {
				return ctx.Err()
			}
			req.Contents = append(req.Contents, *rev.Content)

			if actions.TransferTarget() != "" || actions.Escalates() {
				handoff = true
			}
		}
		if handoff {
			log.Debug("llm.call.handoff", "rounds", round+1)
			return nil
		}
	}
}

// instruction renders the agent instruction with the session state.
func (inf *Inference) instruction(ctx context.Context, in core.InferenceInput, log logging.Logger) string {
	text := in.Instruction
	if text == "" {
		text = in.Description
	}
	if !strings.Contains(text, "{{") {
		return text
	}
	data := map[string]any{}
	if inf.state != nil && in.SessionID != "" {
		if sess, err := inf.state.Get(ctx, in.SessionID); err == nil {
			data = sess.Snapshot()
		}
	}
	for k, v := range in.Request {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}
	rendered, err := util.RenderTemplate(text, data)
	if err != nil {
		log.Warn("llm.instruction.template_failed", "error", err)
		return text
	}
	return rendered
}

// generate runs one model call, forwarding partial chunks as events, and
// returns the final response.
func (inf *Inference) generate(ctx context.Context, req Request, author string, events chan<- core.Event) (Response, error) {
	respCh, errCh := inf.model.Generate(ctx, req)

	var (
		final    Response
		gotFinal bool
		firstErr error
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return final, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				ev := core.NewEvent(author)
				content := r.Content
				ev.Content = &content
				ev.Partial = true
				if !emit(ctx, events, ev) {
					return final, ctx.Err()
				}
				continue
			}
			final, gotFinal = r, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return final, firstErr
	}
	if !gotFinal {
		return final, fmt.Errorf("model returned no final response")
	}
	return final, nil
}

// callTool resolves and runs one function call. Unknown tools and
// unparsable arguments are reported back to the model as error results.
func (inf *Inference) callTool(ctx context.Context, tools map[string]core.Tool, call core.FunctionCall, log logging.Logger) (core.Result, error) {
	t, ok := tools[call.Name]
	if !ok {
		log.Warn("llm.tool.unknown", "tool", call.Name)
		return core.ErrorResultWith(fmt.Sprintf("unknown tool %q", call.Name), map[string]any{"tool": call.Name}), nil
	}
	args, err := ParseArguments(call.Arguments)
	if err != nil {
		log.Warn("llm.tool.bad_arguments", "tool", call.Name, "error", err)
		return core.ErrorResultWith(err.Error(), map[string]any{"tool": call.Name}), nil
	}
	res, err := t.Call(ctx, args)
	if err != nil {
		if core.IsCancellation(err) && ctx.Err() != nil {
			return nil, err
		}
		return core.ResultFromError(call.Name, err), nil
	}
	if res == nil {
		res = core.ErrorResultWith("tool returned no result", map[string]any{"tool": call.Name})
	}
	return res, nil
}

func (inf *Inference) writeBack(ctx context.Context, in core.InferenceInput, text string, log logging.Logger) {
	if inf.state == nil || in.SessionID == "" || text == "" {
		return
	}
	key := in.OutputKey
	if key == "" {
		key = core.ResponseKey(in.Agent)
	}
	if err := inf.state.Set(context.WithoutCancel(ctx), in.SessionID, key, text); err != nil {
		log.Warn("llm.output.write_failed", "key", key, "error", err)
	}
}

// ParseArguments decodes the raw JSON arguments of a function call. Broken
// JSON as produced by some models is repaired first.
func ParseArguments(raw string) (core.Request, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return core.Request{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return core.Request(args), nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return core.Request(args), nil
}

func emit(ctx context.Context, events chan<- core.Event, ev core.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- ev:
		return true
	}
}
