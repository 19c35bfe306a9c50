package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/model"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewModel(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/v1/"
		o.RequestOptions = []option.RequestOption{option.WithMaxRetries(0)}
	})
}

// generate runs req against m and gathers every response until both
// channels close.
func generate(t *testing.T, m *Model, req model.Request) ([]model.Response, error) {
	t.Helper()
	respCh, errCh := m.Generate(context.Background(), req)
	var (
		out []model.Response
		err error
	)
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			out = append(out, r)
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil {
				err = e
			}
		}
	}
	return out, err
}

func TestGenerate_Complete(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": null,
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}}]
			}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	})

	out, err := generate(t, m, model.Request{
		Contents: []core.Content{{Role: "user", Parts: []core.Part{core.TextPart{Text: "find go"}}}},
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
			Name: "lookup", Description: "look things up", Parameters: map[string]any{"type": "object"},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	final := out[0]
	assert.False(t, final.Partial)
	assert.Equal(t, "tool_calls", final.FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 15, final.Usage.TotalTokens)

	calls := final.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, core.FunctionCall{ID: "call_1", Name: "lookup", Arguments: `{"q":"go"}`}, calls[0])

	assert.Equal(t, "gpt-4o-mini", body["model"])
	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.Equal(t, "lookup", tools[0].(map[string]any)["function"].(map[string]any)["name"])
}

func TestGenerate_Stream(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"b","type":"function","function":{"name":"second","arguments":"{}"}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"a","type":"function","function":{"name":"first","arguments":"{\"x\":"}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"tool_calls"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	out, err := generate(t, m, model.Request{
		Stream:   true,
		Contents: []core.Content{{Role: "user", Parts: []core.Part{core.TextPart{Text: "hi"}}}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)

	for _, r := range out[:len(out)-1] {
		assert.True(t, r.Partial)
	}
	final := out[len(out)-1]
	assert.False(t, final.Partial)
	assert.Equal(t, "Hello", final.Content.Text())

	calls := final.Content.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, core.FunctionCall{ID: "a", Name: "first", Arguments: `{"x":1}`}, calls[0])
	assert.Equal(t, "second", calls[1].Name)
}

func TestGenerate_APIError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})

	_, err := generate(t, m, model.Request{
		Contents: []core.Content{{Role: "user", Parts: []core.Part{core.TextPart{Text: "hi"}}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai")
}

func TestMessages(t *testing.T) {
	contents := []core.Content{
		{Role: "system", Parts: []core.Part{core.TextPart{Text: "be brief"}}},
		{Role: "user", Parts: []core.Part{core.TextPart{Text: "weather?"}}},
		{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "weather", Arguments: "{}"}}}},
		{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c2", Name: "orphan", Response: "late"}}}},
		{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "weather", Response: map[string]any{"temp": 21}}}}},
		{Role: "assistant", Parts: []core.Part{core.TextPart{Text: "21 degrees"}}},
	}

	msgs := Messages(contents)
	require.Len(t, msgs, 6)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "weather", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
	require.NotNil(t, msgs[5].OfTool)
	assert.Equal(t, "c2", msgs[5].OfTool.ToolCallID)
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.Model = "gpt-test"; o.APIKey = "x" })
	assert.Equal(t, model.Info{Name: "gpt-test", Provider: Provider, SupportsTools: true}, m.Info())
}
