// Package code runs code snippets on behalf of the code execution agent.
//
// An Executor receives source text and reports the process outcome. A
// non-zero exit code is a completed run, not an error; Execute returns an
// error only when the snippet could not be run at all (missing interpreter,
// start failure) or when ctx ended.
package code

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned when an executor cannot be used in this
// environment.
var ErrUnavailable = errors.New("code executor unavailable")

// Executor runs code snippets.
type Executor interface {
	Execute(ctx context.Context, code string) (Output, error)
}

// Output is the outcome of one run.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Map renders the output as the raw execution result.
func (o Output) Map() map[string]any {
	return map[string]any{
		"stdout":      o.Stdout,
		"stderr":      o.Stderr,
		"exit_code":   o.ExitCode,
		"duration_ms": o.Duration.Milliseconds(),
	}
}

// Limits are resource hints passed to executors that honour them.
type Limits struct {
	Stateful       bool
	CPU            string
	Memory         string
	MaxOutputBytes int
}

// Factory lazily creates an executor candidate.
type Factory struct {
	Name string
	New  func() (Executor, error)
}

// Candidates resolves the first usable executor from an ordered list of
// factories. The first successful executor is cached; failed attempts are
// retried on the next call.
type Candidates struct {
	factories []Factory

	mu     sync.Mutex
	active Executor
	name   string
}

// NewCandidates creates a resolver over factories, tried in order.
func NewCandidates(factories ...Factory) *Candidates {
	return &Candidates{factories: factories}
}

// Resolve returns the cached executor or initialises the first candidate that
// succeeds. When none succeeds the returned slice holds one message per
// failed candidate.
func (c *Candidates) Resolve() (Executor, string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return c.active, c.name, nil
	}

	var errs []string
	for _, f := range c.factories {
		exec, err := f.New()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		if exec == nil {
			errs = append(errs, fmt.Sprintf("%s: no executor returned", f.Name))
			continue
		}
		c.active, c.name = exec, f.Name
		return exec, f.Name, nil
	}
	if len(errs) == 0 {
		errs = append(errs, "no executor candidates configured")
	}
	return nil, "", errs
}

// Names lists the candidate names in order.
func (c *Candidates) Names() []string {
	names := make([]string, len(c.factories))
	for i, f := range c.factories {
		names[i] = f.Name
	}
	return names
}

// Static returns a factory that always yields exec.
func Static(name string, exec Executor) Factory {
	return Factory{Name: name, New: func() (Executor, error) { return exec, nil }}
}

// Unavailable returns a factory that always fails with reason.
func Unavailable(name, reason string) Factory {
	return Factory{Name: name, New: func() (Executor, error) {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, reason)
	}}
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, code string) (Output, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, code string) (Output, error) { return f(ctx, code) }

// Truncate shortens s to max bytes, marking the cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "") + "...[truncated]"
}
