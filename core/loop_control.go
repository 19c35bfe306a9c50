package core

import (
	"context"
	"sync"
)

// LoopControl lets code running inside a loop iteration ask the enclosing
// loop to stop after the current sub-agent.
type LoopControl struct {
	mu     sync.Mutex
	exit   bool
	reason string
}

// RequestExit sets the exit_requested flag.
func (c *LoopControl) RequestExit(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exit = true
	c.reason = reason
}

// ExitRequested reports whether an exit was requested and why.
func (c *LoopControl) ExitRequested() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit, c.reason
}

type loopControlKey struct{}

// WithLoopControl attaches c to ctx.
func WithLoopControl(ctx context.Context, c *LoopControl) context.Context {
	return context.WithValue(ctx, loopControlKey{}, c)
}

// LoopControlFromContext returns the innermost LoopControl or nil.
func LoopControlFromContext(ctx context.Context) *LoopControl {
	c, _ := ctx.Value(loopControlKey{}).(*LoopControl)
	return c
}
