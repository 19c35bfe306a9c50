package core

import "context"

// InferenceInput is the agent configuration and request handed to an
// inference capability.
type InferenceInput struct {
	Agent       string
	Description string
	Instruction string
	Request     Request
	SessionID   string
	// OutputKey names the session key the final answer is written to. Empty
	// means ResponseKey(Agent).
	OutputKey string
	Tools     []Tool
}

// Inference produces an answer for an agent as a stream of events. The event
// channel and the error channel are both closed when the invocation ends;
// callers must drain both (see Drain).
type Inference interface {
	Invoke(ctx context.Context, in InferenceInput) (<-chan Event, <-chan error)
}

// InferenceFunc adapts a function to Inference.
type InferenceFunc func(ctx context.Context, in InferenceInput) (<-chan Event, <-chan error)

// Invoke implements Inference.
func (f InferenceFunc) Invoke(ctx context.Context, in InferenceInput) (<-chan Event, <-chan error) {
	return f(ctx, in)
}

// Outcome is the drained result of an inference invocation.
type Outcome struct {
	Events  []Event
	Output  any
	Actions EventActions
}

// Text returns the textual answer of the outcome using ExtractText.
func (o Outcome) Text(state map[string]any, agent string) string {
	return ExtractText(o.Output, state, agent)
}

// Result renders the outcome as the raw inference result an agent reports
// under "llm_result". Map outputs are returned as-is with actions merged in.
func (o Outcome) Result() map[string]any {
	var out map[string]any
	switch v := o.Output.(type) {
	case map[string]any:
		out = make(map[string]any, len(v)+1)
		for k, val := range v {
			out[k] = val
		}
	case Result:
		out = make(map[string]any, len(v)+1)
		for k, val := range v {
			out[k] = val
		}
	case nil:
		out = map[string]any{}
	default:
		out = map[string]any{KeyResponse: v}
	}
	if _, ok := out[KeyEventActions]; !ok && !o.Actions.IsZero() {
		out[KeyEventActions] = o.Actions.Map()
	}
	return out
}

// Drain consumes both channels of an inference invocation until they are
// closed. The output of the last final event wins; event actions are merged
// in emission order. A context cancellation while draining is returned as is.
func Drain(ctx context.Context, events <-chan Event, errs <-chan error) (Outcome, error) {
	var (
		out      Outcome
		firstErr error
	)
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			out.Events = append(out.Events, ev)
			out.Actions = out.Actions.Merge(ev.Actions)
			if ev.Partial {
				continue
			}
			if ev.Output != nil {
				out.Output = ev.Output
			} else if text := ev.Content.Text(); text != "" && len(ev.FunctionCalls()) == 0 {
				out.Output = text
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return out, firstErr
}
