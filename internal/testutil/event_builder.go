package testutil

import (
	"context"

	"github.com/hupe1980/devmesh/core"
)

// EventBuilder constructs events fluently:
//
//	ev := NewEventBuilder().Author("agent").Text("hello").Escalate().Build()
type EventBuilder struct {
	author  string
	role    string
	parts   []core.Part
	output  any
	partial bool
	actions core.EventActions
}

// NewEventBuilder creates a builder with author "agent".
func NewEventBuilder() *EventBuilder { return &EventBuilder{author: "agent", role: "assistant"} }

// Author sets the author.
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// Text appends an assistant text part.
func (b *EventBuilder) Text(t string) *EventBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// FunctionCall appends a function call with raw JSON arguments.
func (b *EventBuilder) FunctionCall(id, name, args string) *EventBuilder {
	b.parts = append(b.parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args}})
	return b
}

// FunctionResponse appends a tool response and switches the role to tool.
func (b *EventBuilder) FunctionResponse(id, name string, response any) *EventBuilder {
	b.role = "tool"
	b.parts = append(b.parts, core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: id, Name: name, Response: response}})
	return b
}

// Output sets the event output.
func (b *EventBuilder) Output(v any) *EventBuilder { b.output = v; return b }

// Partial marks the event as a streaming chunk.
func (b *EventBuilder) Partial() *EventBuilder { b.partial = true; return b }

// Escalate sets the escalate action.
func (b *EventBuilder) Escalate() *EventBuilder {
	v := true
	b.actions.Escalate = &v
	return b
}

// TransferTo sets the transfer action.
func (b *EventBuilder) TransferTo(agent string) *EventBuilder {
	b.actions.TransferToAgent = &agent
	return b
}

// StateDelta merges delta into the state_delta action.
func (b *EventBuilder) StateDelta(delta map[string]any) *EventBuilder {
	b.actions = b.actions.Merge(core.EventActions{StateDelta: delta})
	return b
}

// Build returns the event.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.author)
	if len(b.parts) > 0 {
		ev.Content = &core.Content{Role: b.role, Parts: append([]core.Part(nil), b.parts...)}
	}
	ev.Output = b.output
	ev.Partial = b.partial
	ev.Actions = b.actions
	return ev
}

// ScriptedInference returns a core.Inference that emits events for every
// invocation and records the inputs it was given.
type ScriptedInference struct {
	Events []core.Event
	Err    error
	Inputs []core.InferenceInput
}

// Invoke implements core.Inference. Not safe for concurrent invocations.
func (s *ScriptedInference) Invoke(ctx context.Context, in core.InferenceInput) (<-chan core.Event, <-chan error) {
	s.Inputs = append(s.Inputs, in)
	events := make(chan core.Event, len(s.Events))
	errs := make(chan error, 1)
	for _, ev := range s.Events {
		events <- ev
	}
	if s.Err != nil {
		errs <- s.Err
	}
	close(events)
	close(errs)
	return events, errs
}
