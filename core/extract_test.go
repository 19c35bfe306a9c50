package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractText(t *testing.T) {
	type opaque struct{ A int }

	tests := []struct {
		name  string
		value any
		state map[string]any
		agent string
		want  string
	}{
		{
			name:  "session response key wins",
			value: map[string]any{"response": "from result"},
			state: map[string]any{"dev_response": "from state"},
			agent: "dev",
			want:  "from state",
		},
		{name: "direct string", value: "  hello ", want: "hello"},
		{name: "response key", value: map[string]any{"text": "t", "response": "r"}, want: "r"},
		{name: "text before content", value: map[string]any{"content": "c", "text": "t"}, want: "t"},
		{name: "nested result", value: map[string]any{"result": map[string]any{"output": "deep"}}, want: "deep"},
		{name: "result type", value: Result{"status": "success", "message": "m"}, want: "m"},
		{
			name: "event actions state delta",
			value: map[string]any{"event_actions": map[string]any{
				"state_delta": map[string]any{"dev_response": "delta answer"},
			}},
			agent: "dev",
			want:  "delta answer",
		},
		{
			name: "event actions known key",
			value: map[string]any{"event_actions": map[string]any{
				"state_delta": map[string]any{"text": "delta text"},
			}},
			want: "delta text",
		},
		{name: "number stringified", value: 42, want: "42"},
		{name: "struct repr rejected", value: opaque{A: 1}, want: ""},
		{name: "pointer repr rejected", value: &opaque{A: 1}, want: ""},
		{name: "map without keys rejected", value: map[string]any{"x": 1}, want: ""},
		{name: "nil", value: nil, want: ""},
		{name: "content", value: &Content{Parts: []Part{TextPart{Text: "part"}}}, want: "part"},
		{name: "events use last", value: []Event{NewMessageEvent("a", "first"), NewMessageEvent("a", "last")}, want: "last"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(tt.value, tt.state, tt.agent))
		})
	}
}
