package core

import (
	"context"
	"fmt"
	"runtime/debug"
)

// PanicHook receives a recovered agent panic with its stack.
type PanicHook func(agent string, recovered any, stack []byte)

type panicHookKey struct{}

// WithPanicHook attaches fn to ctx. Invoke calls it for every panic it
// recovers below ctx.
func WithPanicHook(ctx context.Context, fn PanicHook) context.Context {
	return context.WithValue(ctx, panicHookKey{}, fn)
}

// PanicHookFromContext returns the hook attached to ctx or nil.
func PanicHookFromContext(ctx context.Context) PanicHook {
	fn, _ := ctx.Value(panicHookKey{}).(PanicHook)
	return fn
}

// Invoke runs a at a composition boundary. It enforces the agent contract on
// behalf of the caller:
//
//   - an already-cancelled ctx returns ctx.Err() without running the agent
//   - a panic is recovered, reported as an error Result and passed to the
//     PanicHook of ctx
//   - a non-cancellation error is converted into an error Result
//   - a nil Result becomes an error Result
//   - a Result without status is marked as error
//
// The only error Invoke returns is a context cancellation.
func Invoke(ctx context.Context, a Agent, req Request) (res Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			res = ErrorResultWith(fmt.Sprintf("agent %s panicked: %v", a.Name(), r), map[string]any{
				KeyAgent: a.Name(),
			})
			if hook := PanicHookFromContext(ctx); hook != nil {
				hook(a.Name(), r, debug.Stack())
			}
			err = nil
		}
	}()

	res, err = a.Run(ctx, req)
	if err != nil {
		if IsCancellation(err) && ctx.Err() != nil {
			return nil, err
		}
		return ResultFromError(a.Name(), err), nil
	}

	if res == nil {
		return ErrorResultWith("agent returned no result", map[string]any{KeyAgent: a.Name()}), nil
	}

	if res.Status() == "" {
		res = res.With(KeyStatus, StatusError)
		if _, ok := res[KeyError]; !ok {
			res[KeyError] = "agent returned result without status"
		}
	}

	return res, nil
}
