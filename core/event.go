package core

import (
	"encoding/json"
	"time"
)

// EventActions encodes orchestration signals attached to an inference event
// or to an agent result. Pointer fields distinguish absence from zero values.
type EventActions struct {
	StateDelta        map[string]any `json:"state_delta,omitempty"`
	TransferToAgent   *string        `json:"transfer_to_agent,omitempty"`
	Escalate          *bool          `json:"escalate,omitempty"`
	SkipSummarization *bool          `json:"skip_summarization,omitempty"`
}

// IsZero reports whether no action is set.
func (a EventActions) IsZero() bool {
	return len(a.StateDelta) == 0 && a.TransferToAgent == nil && a.Escalate == nil && a.SkipSummarization == nil
}

// Escalates reports whether the escalate flag is set to true.
func (a EventActions) Escalates() bool { return a.Escalate != nil && *a.Escalate }

// TransferTarget returns the requested transfer target or "".
func (a EventActions) TransferTarget() string {
	if a.TransferToAgent == nil {
		return ""
	}
	return *a.TransferToAgent
}

// Merge overlays b on a. State deltas are merged key by key, later wins.
func (a EventActions) Merge(b EventActions) EventActions {
	out := a
	if len(b.StateDelta) > 0 {
		merged := make(map[string]any, len(a.StateDelta)+len(b.StateDelta))
		for k, v := range a.StateDelta {
			merged[k] = v
		}
		for k, v := range b.StateDelta {
			merged[k] = v
		}
		out.StateDelta = merged
	}
	if b.TransferToAgent != nil {
		out.TransferToAgent = b.TransferToAgent
	}
	if b.Escalate != nil {
		out.Escalate = b.Escalate
	}
	if b.SkipSummarization != nil {
		out.SkipSummarization = b.SkipSummarization
	}
	return out
}

// Map renders the actions as the generic map stored in results.
func (a EventActions) Map() map[string]any {
	m := map[string]any{}
	if len(a.StateDelta) > 0 {
		m["state_delta"] = a.StateDelta
	}
	if a.TransferToAgent != nil {
		m["transfer_to_agent"] = *a.TransferToAgent
	}
	if a.Escalate != nil {
		m["escalate"] = *a.Escalate
	}
	if a.SkipSummarization != nil {
		m["skip_summarization"] = *a.SkipSummarization
	}
	return m
}

// ParseEventActions reads actions from a value found under "event_actions".
// It accepts EventActions values, pointers to them and generic maps. The
// boolean is false when v holds nothing usable.
func ParseEventActions(v any) (EventActions, bool) {
	switch t := v.(type) {
	case nil:
		return EventActions{}, false
	case EventActions:
		return t, !t.IsZero()
	case *EventActions:
		if t == nil {
			return EventActions{}, false
		}
		return *t, !t.IsZero()
	case map[string]any:
		var a EventActions
		if sd, ok := t["state_delta"].(map[string]any); ok {
			a.StateDelta = sd
		}
		if s, ok := t["transfer_to_agent"].(string); ok && s != "" {
			a.TransferToAgent = &s
		}
		if b, ok := t["escalate"].(bool); ok {
			a.Escalate = &b
		}
		if b, ok := t["skip_summarization"].(bool); ok {
			a.SkipSummarization = &b
		}
		return a, !a.IsZero()
	default:
		// Struct types from other packages: round-trip through JSON.
		raw, err := json.Marshal(t)
		if err != nil {
			return EventActions{}, false
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return EventActions{}, false
		}
		return ParseEventActions(m)
	}
}

// ActionsOf extracts the event actions carried by a result.
func ActionsOf(r Result) (EventActions, bool) {
	if r == nil {
		return EventActions{}, false
	}
	return ParseEventActions(r[KeyEventActions])
}

// Event is a unit produced by a streaming inference capability. After
// emission it is treated as immutable.
type Event struct {
	ID           string       `json:"id"`
	Author       string       `json:"author"`
	Timestamp    time.Time    `json:"timestamp"`
	Content      *Content     `json:"content,omitempty"`
	Output       any          `json:"output,omitempty"`
	Actions      EventActions `json:"actions"`
	Partial      bool         `json:"partial,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// NewEvent creates a bare event authored by author.
func NewEvent(author string) Event {
	return Event{
		ID:        NewID(),
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewMessageEvent creates an assistant message event with a single text part.
func NewMessageEvent(author, message string) Event {
	e := NewEvent(author)
	e.Content = &Content{Role: "assistant", Parts: []Part{TextPart{Text: message}}}
	return e
}

// NewFunctionCallEvent records a model asking to run a tool.
func NewFunctionCallEvent(author string, call FunctionCall) Event {
	e := NewEvent(author)
	e.Content = &Content{Role: "assistant", Parts: []Part{FunctionCallPart{FunctionCall: call}}}
	return e
}

// NewFunctionResponseEvent records the outcome of a tool call. A non-nil err
// is copied into the response.
func NewFunctionResponseEvent(author, id, name string, result any, err error) Event {
	e := NewEvent(author)
	fr := FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	e.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return e
}

// FunctionCalls returns the function calls in the event content.
func (e Event) FunctionCalls() []FunctionCall { return e.Content.FunctionCalls() }

// IsFinal reports whether the event closes an assistant turn.
func (e Event) IsFinal() bool {
	return !e.Partial && len(e.FunctionCalls()) == 0 && e.ErrorMessage == ""
}
