package core

import "context"

// Tool is a named capability an agent or model can invoke. It follows the
// agent contract: failures are reported in the Result and the error return
// is reserved for cancellation.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON schema describing the payload.
	Parameters() map[string]any
	Call(ctx context.Context, payload Request) (Result, error)
}

// ToolSpec advertises a tool to an inference backend.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SpecOf returns the advertisement of t.
func SpecOf(t Tool) ToolSpec {
	return ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()}
}
