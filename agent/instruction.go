package agent

import (
	"context"

	"github.com/hupe1980/devmesh/core"
)

// Provider supplies instruction text at run time, for example from the
// request or an external prompt store.
type Provider interface {
	Instruction(ctx context.Context, req core.Request) (string, error)
}

// InstructionFunc adapts a function to Provider.
type InstructionFunc func(ctx context.Context, req core.Request) (string, error)

// Instruction implements Provider.
func (f InstructionFunc) Instruction(ctx context.Context, req core.Request) (string, error) {
	return f(ctx, req)
}

// Instruction is either static text or a Provider. Static text may contain
// template placeholders such as {{.user}}; they are rendered against session
// state by the inference capability.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates a static instruction.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates a dynamic instruction.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates a dynamic instruction from fn.
func NewInstructionFromFunc(fn func(ctx context.Context, req core.Request) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(fn)}
}

// IsStatic reports whether the instruction is plain text.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, asking the provider if there is one.
func (i Instruction) Resolve(ctx context.Context, req core.Request) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, req)
	}
	return i.text, nil
}
