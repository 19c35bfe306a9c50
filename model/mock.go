package model

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hupe1980/devmesh/core"
)

// MockModel is a deterministic Model for tests and offline runs.
//
// Responses queued with Enqueue are consumed first, one per Generate call.
// Once the queue is empty the reply registered with AddResponse for the last
// user message is returned, or "Mock response to: <message>".
type MockModel struct {
	info Info

	mu       sync.Mutex
	canned   map[string]string
	queue    []Response
	requests []Request
}

// NewMockModel returns a MockModel that reports tool support.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:   Info{Name: name, Provider: provider, SupportsTools: true},
		canned: map[string]string{},
	}
}

// AddResponse registers reply for the user message prompt.
func (m *MockModel) AddResponse(prompt, reply string) {
	m.mu.Lock()
	m.canned[prompt] = reply
	m.mu.Unlock()
}

// Enqueue appends scripted responses.
func (m *MockModel) Enqueue(responses ...Response) {
	m.mu.Lock()
	m.queue = append(m.queue, responses...)
	m.mu.Unlock()
}

// EnqueueText queues a final text answer.
func (m *MockModel) EnqueueText(text string) {
	m.Enqueue(Response{Content: assistantText(text), FinishReason: "stop"})
}

// EnqueueToolCall queues an answer that calls tool name with args.
func (m *MockModel) EnqueueToolCall(id, name string, args map[string]any) {
	raw, _ := json.Marshal(args)
	call := core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: string(raw)}}
	m.Enqueue(Response{
		Content:      core.Content{Role: "assistant", Parts: []core.Part{call}},
		FinishReason: "tool_calls",
	})
}

// Requests returns a copy of every request seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// Generate implements Model. For streaming requests the canned text is also
// sent one rune per partial response ahead of the final one.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errs := make(chan error, 1)

	chunks, err := m.next(req)

	go func() {
		defer close(out)
		defer close(errs)
		if err != nil {
			errs <- err
			return
		}
		for _, r := range chunks {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case out <- r:
			}
		}
	}()
	return out, errs
}

// next records req and decides what to answer with.
func (m *MockModel) next(req Request) ([]Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.queue) > 0 {
		r := m.queue[0]
		m.queue = m.queue[1:]
		return []Response{r}, nil
	}
	if len(req.Contents) == 0 {
		return nil, errors.New("no contents provided")
	}

	prompt := lastUserText(req.Contents)
	reply, ok := m.canned[prompt]
	if !ok || reply == "" {
		reply = "Mock response to: " + prompt
	}

	var chunks []Response
	if req.Stream {
		for _, r := range reply {
			chunks = append(chunks, Response{Partial: true, Content: assistantText(string(r))})
		}
	}
	return append(chunks, Response{Content: assistantText(reply), FinishReason: "stop"}), nil
}

func assistantText(text string) core.Content {
	return core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: text}}}
}

func lastUserText(contents []core.Content) string {
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i].Role == "user" {
			return contents[i].Text()
		}
	}
	return ""
}
