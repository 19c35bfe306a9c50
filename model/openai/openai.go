// Package openai implements model.Model on the OpenAI Chat Completions API,
// including streaming and tool calling. Any OpenAI compatible endpoint can be
// targeted through Options.BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/model"
)

// Provider is reported in model.Info.
const Provider = "openai"

// Options configure the adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey and BaseURL are only used by NewModel. Empty values fall back to
	// the SDK defaults (OPENAI_API_KEY, api.openai.com).
	APIKey  string
	BaseURL string
	// RequestOptions are passed to the client built by NewModel.
	RequestOptions []option.RequestOption
}

// Model talks to the Chat Completions endpoint.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel builds a client from the options.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := options(optFns)

	reqOpts := append([]option.RequestOption(nil), opts.RequestOptions...)
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient uses an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: options(optFns)}
}

func options(optFns []func(o *Options)) Options {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.2,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: Provider, SupportsTools: true}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		params := m.params(req)
		var err error
		if req.Stream {
			err = m.stream(ctx, params, out)
		} else {
			err = m.complete(ctx, params, out)
		}
		if err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func (m *Model) params(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:               m.opts.Model,
		Messages:            Messages(req.Contents),
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	for _, def := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Function.Name,
				Description: openai.String(def.Function.Description),
				Parameters:  def.Function.Parameters,
			},
		})
	}
	return params
}

func (m *Model) complete(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("openai: response has no choices")
	}

	choice := resp.Choices[0]
	calls := make([]core.FunctionCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, core.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	final := model.Response{
		ID:           resp.ID,
		Content:      assistant(choice.Message.Content, calls),
		FinishReason: choice.FinishReason,
		Usage:        usage(resp.Usage),
	}
	return send(ctx, out, final)
}

func (m *Model) stream(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		acc   streamAccumulator
		final *model.Response
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 && final != nil {
			final.Usage = usage(chunk.Usage)
		}
		for _, choice := range chunk.Choices {
			if text := choice.Delta.Content; text != "" {
				acc.text.WriteString(text)
				if err := send(ctx, out, partial(core.TextPart{Text: text})); err != nil {
					return err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				call := acc.call(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
				if err := send(ctx, out, partial(core.FunctionCallPart{FunctionCall: call})); err != nil {
					return err
				}
			}
			if choice.FinishReason != "" && final == nil {
				final = &model.Response{
					ID:           chunk.ID,
					Content:      assistant(acc.text.String(), acc.calls()),
					FinishReason: choice.FinishReason,
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	if final == nil {
		return errors.New("openai stream: ended without finish reason")
	}
	return send(ctx, out, *final)
}

// streamAccumulator merges streamed deltas. Tool calls are keyed by their
// choice index and reported in index order.
type streamAccumulator struct {
	text  strings.Builder
	tools map[int64]*core.FunctionCall
}

func (a *streamAccumulator) call(index int64, id, name, args string) core.FunctionCall {
	if a.tools == nil {
		a.tools = make(map[int64]*core.FunctionCall)
	}
	c, ok := a.tools[index]
	if !ok {
		c = &core.FunctionCall{}
		a.tools[index] = c
	}
	if id != "" {
		c.ID = id
	}
	if name != "" {
		c.Name = name
	}
	c.Arguments += args
	return *c
}

func (a *streamAccumulator) calls() []core.FunctionCall {
	idx := make([]int64, 0, len(a.tools))
	for i := range a.tools {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })

	calls := make([]core.FunctionCall, 0, len(idx))
	for _, i := range idx {
		calls = append(calls, *a.tools[i])
	}
	return calls
}

// Messages converts contents into chat messages. Tool responses are placed
// directly after the assistant message that requested them; responses
// without a matching request are appended at the end.
func Messages(contents []core.Content) []openai.ChatCompletionMessageParamUnion {
	pending := map[string]string{}
	var order []string
	for _, c := range contents {
		if c.Role != "tool" {
			continue
		}
		for _, p := range c.Parts {
			fr, ok := p.(core.FunctionResponsePart)
			if !ok || fr.FunctionResponse.ID == "" {
				continue
			}
			if _, seen := pending[fr.FunctionResponse.ID]; !seen {
				pending[fr.FunctionResponse.ID] = model.ResponseText(fr.FunctionResponse)
				order = append(order, fr.FunctionResponse.ID)
			}
		}
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	for i := range contents {
		c := &contents[i]
		text := c.Text()
		switch c.Role {
		case "tool":
		case "system":
			msgs = append(msgs, openai.SystemMessage(text))
		case "assistant":
			calls := c.FunctionCalls()
			if len(calls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(text))
				continue
			}
			msg := openai.ChatCompletionAssistantMessageParam{Role: "assistant"}
			if text != "" {
				msg.Content.OfString = openai.String(text)
			}
			for _, fc := range calls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:       fc.ID,
					Type:     "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{Name: fc.Name, Arguments: fc.Arguments},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
			for _, fc := range calls {
				if resp, ok := pending[fc.ID]; ok {
					msgs = append(msgs, openai.ToolMessage(resp, fc.ID))
					delete(pending, fc.ID)
				}
			}
		default:
			if c.Role == "user" || text != "" {
				msgs = append(msgs, openai.UserMessage(text))
			}
		}
	}
	for _, id := range order {
		if resp, ok := pending[id]; ok {
			msgs = append(msgs, openai.ToolMessage(resp, id))
		}
	}
	return msgs
}

func assistant(text string, calls []core.FunctionCall) core.Content {
	parts := make([]core.Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	for _, fc := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	return core.Content{Role: "assistant", Parts: parts}
}

func partial(p core.Part) model.Response {
	return model.Response{Partial: true, Content: core.Content{Role: "assistant", Parts: []core.Part{p}}}
}

func usage(u openai.CompletionUsage) *model.TokenUsage {
	if u.TotalTokens == 0 {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- r:
		return nil
	}
}
