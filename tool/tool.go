// Package tool implements the tool calling subsystem: schema validated
// function tools, the built-in control tools (transfer_to_agent, exit_loop),
// agents exposed as tools and a Registry that guards, rate limits, caches and
// records every call.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/internal/util"
)

// Tool is the capability contract shared with core.
type Tool = core.Tool

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by tool error results.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeExecution   = "EXECUTION_ERROR"
	CodeBlocked     = "SECURITY_BLOCKED"
	CodeRateLimited = "RATE_LIMITED"
	CodeNotFound    = "TOOL_NOT_FOUND"
	CodePanic       = "PANIC"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Result renders the error as a tool error result.
func (e *ToolError) Result() core.Result {
	r := core.ErrorResultWith(e.Message, map[string]any{"tool": e.Tool, "code": e.Code})
	if e.Details != nil {
		r["details"] = e.Details
	}
	return r
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// asToolError classifies err for tool name. A *ToolError is passed through,
// a validation error gets CodeValidation and anything else CodeExecution.
func asToolError(name string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ToolError{Tool: name, Message: ve.Error(), Code: CodeValidation, Details: ve}
	}
	return &ToolError{Tool: name, Message: err.Error(), Code: CodeExecution}
}
