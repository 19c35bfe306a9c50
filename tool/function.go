package tool

import (
	"context"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/internal/util"
)

// Func is the implementation behind a FunctionTool. It receives arguments that
// already passed schema validation.
type Func func(ctx context.Context, args core.Request) (any, error)

// FunctionTool exposes a plain Go function as a tool.
//
// Error semantics:
//
//	validation failure -> error result with code VALIDATION_ERROR
//	*ToolError         -> error result with the tool error's code
//	other error        -> error result with code EXECUTION_ERROR
//	ctx cancellation   -> returned as error
//
// Return values are normalized: a core.Result or a map with a status is
// returned as is, anything else is wrapped as {status: success, result: v}.
//
// A FunctionTool has no mutable state and is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sum := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args core.Request) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// util.CreateSchema.
func NewFunctionToolFromStruct(name, description string, structType any, fn Func) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args then invokes the wrapped function.
func (t *FunctionTool) Call(ctx context.Context, args core.Request) (core.Result, error) {
	if args == nil {
		args = core.Request{}
	}
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return asToolError(t.name, err).Result(), nil
	}

	out, err := t.fn(ctx, args)
	if err != nil {
		if core.IsCancellation(err) && ctx.Err() != nil {
			return nil, err
		}
		return asToolError(t.name, err).Result(), nil
	}
	return normalize(out), nil
}

// normalize turns a tool return value into a Result.
func normalize(v any) core.Result {
	switch out := v.(type) {
	case core.Result:
		if out.Status() != "" {
			return out
		}
		return core.Success(out)
	case map[string]any:
		if s, _ := out[core.KeyStatus].(string); s != "" {
			return core.Result(out)
		}
		return core.Success(map[string]any{core.KeyResult: out})
	default:
		return core.Success(map[string]any{core.KeyResult: v})
	}
}
