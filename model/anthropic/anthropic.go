// Package anthropic implements model.Model on the Anthropic Messages API.
// Streaming requests are answered with a single final response.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/model"
)

// Provider is reported in model.Info.
const Provider = "anthropic"

// Options configures the adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	// APIKey and BaseURL are only used by NewModel.
	APIKey  string
	BaseURL string
	// RequestOptions are passed to the client built by NewModel.
	RequestOptions []option.RequestOption
}

// Model talks to the Messages endpoint.
type Model struct {
	client *anthropic.Client
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
	client := anthropic.NewClient(reqOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient uses an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: options(optFns)}
}

func options(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.2,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: Provider, SupportsTools: true}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		system, msgs := Messages(req.Contents)
		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
			System:      system,
			Messages:    msgs,
			Tools:       Tools(req.Tools),
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errs <- fmt.Errorf("anthropic: %w", err)
			return
		}

		final := response(resp)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
		case out <- final:
		}
	}()
	return out, errs
}

func response(resp *anthropic.Message) model.Response {
	var parts []core.Part
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if text := block.AsText().Text; text != "" {
				parts = append(parts, core.TextPart{Text: text})
			}
		case "tool_use":
			use := block.AsToolUse()
			args := "{}"
			if raw, err := json.Marshal(use.Input); err == nil && len(raw) > 0 && string(raw) != "null" {
				args = string(raw)
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: use.ID, Name: use.Name, Arguments: args}})
		}
	}

	finish := string(resp.StopReason)
	if finish == "" {
		finish = "stop"
	}
	r := model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: finish,
	}
	if total := resp.Usage.InputTokens + resp.Usage.OutputTokens; total > 0 {
		r.Usage = &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(total),
		}
	}
	return r
}

// Messages splits contents into system blocks and conversation messages.
// The results of an assistant's tool calls are sent back in the user turn
// that follows it.
func Messages(contents []core.Content) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	results := map[string]core.FunctionResponse{}
	for _, c := range contents {
		if c.Role != "tool" {
			continue
		}
		for _, p := range c.Parts {
			if fr, ok := p.(core.FunctionResponsePart); ok && fr.FunctionResponse.ID != "" {
				results[fr.FunctionResponse.ID] = fr.FunctionResponse
			}
		}
	}

	var (
		system []anthropic.TextBlockParam
		msgs   []anthropic.MessageParam
	)
	for _, c := range contents {
		switch c.Role {
		case "tool":
		case "system":
			for _, p := range c.Parts {
				if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
					system = append(system, anthropic.TextBlockParam{Text: tp.Text})
				}
			}
		case "assistant":
			blocks, answers := assistantBlocks(c.Parts, results)
			if len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
			}
			if len(answers) > 0 {
				msgs = append(msgs, anthropic.NewUserMessage(answers...))
			}
		default:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range c.Parts {
				if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(tp.Text))
				}
			}
			if len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return system, msgs
}

// assistantBlocks converts an assistant turn and collects the tool results
// answering its tool calls.
func assistantBlocks(parts []core.Part, results map[string]core.FunctionResponse) (blocks, answers []anthropic.ContentBlockParamUnion) {
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			call := part.FunctionCall
			var input any = map[string]any{}
			if call.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					input = map[string]any{"raw": call.Arguments}
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			if fr, ok := results[call.ID]; ok {
				answers = append(answers, anthropic.NewToolResultBlock(call.ID, model.ResponseText(fr), fr.Error != ""))
				delete(results, call.ID)
			}
		}
	}
	return blocks, answers
}

// Tools converts tool definitions. Only the properties and required fields
// of the JSON schema are forwarded.
func Tools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := def.Function.Parameters["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = stringSlice(def.Function.Parameters["required"])

		t := anthropic.ToolParam{Name: def.Function.Name, InputSchema: schema}
		if def.Function.Description != "" {
			t.Description = anthropic.String(def.Function.Description)
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &t})
	}
	return tools
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
