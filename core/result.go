package core

// Status values carried by every Result.
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusBlocked        = "blocked"
	StatusNotImplemented = "not_implemented"
	StatusReceived       = "received"
	StatusCompleted      = "completed"
)

// Well-known result keys.
const (
	KeyStatus       = "status"
	KeyError        = "error"
	KeyAgent        = "agent"
	KeyResult       = "result"
	KeyResults      = "results"
	KeyResponse     = "response"
	KeyReason       = "reason"
	KeyEventActions = "event_actions"
	KeyLLMResult    = "llm_result"
)

// Result is the open map every agent returns. It always carries a "status"
// entry; the remaining keys depend on the producing agent.
type Result map[string]any

// Status returns the result status or "" when missing.
func (r Result) Status() string {
	s, _ := r[KeyStatus].(string)
	return s
}

// IsError reports whether the result signals a failure.
func (r Result) IsError() bool { return r.Status() == StatusError }

// IsSuccess reports whether the result signals success.
func (r Result) IsSuccess() bool { return r.Status() == StatusSuccess }

// ErrorMessage returns the "error" entry as text.
func (r Result) ErrorMessage() string {
	switch v := r[KeyError].(type) {
	case string:
		return v
	case error:
		return v.Error()
	case nil:
		return ""
	default:
		return ExtractText(v, nil, "")
	}
}

// String returns the value under key when it is a string.
func (r Result) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// With returns a shallow copy of r with key set to value.
func (r Result) With(key string, value any) Result {
	out := make(Result, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[key] = value
	return out
}

// Success builds a success result populated from fields.
func Success(fields map[string]any) Result {
	return withStatus(StatusSuccess, fields)
}

// Completed builds a completed result populated from fields.
func Completed(fields map[string]any) Result {
	return withStatus(StatusCompleted, fields)
}

// Received builds a received result populated from fields.
func Received(fields map[string]any) Result {
	return withStatus(StatusReceived, fields)
}

// ErrorResult builds an error result carrying msg.
func ErrorResult(msg string) Result {
	return Result{KeyStatus: StatusError, KeyError: msg}
}

// ErrorResultWith builds an error result carrying msg plus extra fields.
func ErrorResultWith(msg string, fields map[string]any) Result {
	r := withStatus(StatusError, fields)
	r[KeyError] = msg
	return r
}

// Blocked builds a blocked result with the given reason.
func Blocked(reason string) Result {
	return Result{KeyStatus: StatusBlocked, "blocked": true, KeyReason: reason}
}

// NotImplemented builds a not_implemented result with the given reason.
func NotImplemented(agent, reason string) Result {
	return Result{KeyStatus: StatusNotImplemented, KeyAgent: agent, KeyReason: reason}
}

func withStatus(status string, fields map[string]any) Result {
	r := make(Result, len(fields)+1)
	for k, v := range fields {
		r[k] = v
	}
	r[KeyStatus] = status
	return r
}
