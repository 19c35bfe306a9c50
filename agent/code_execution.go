package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/hupe1980/devmesh/audit"
	"github.com/hupe1980/devmesh/code"
	"github.com/hupe1980/devmesh/core"
)

// Code execution defaults.
const (
	DefaultMaxCodeLen  = 100000
	DefaultExecTimeout = 20 * time.Second
)

// Code execution error messages.
const (
	MsgMissingCode      = "missing code"
	MsgCodeTooLarge     = "code too large"
	MsgForbiddenPattern = "forbidden code pattern detected"
	MsgTimedOut         = "execution timed out"
	MsgNoExecutor       = "no supported code executor available"
)

// DefaultDenylist is the pre-filter applied before code reaches an executor.
// It covers process spawning, raw sockets and recursive deletes.
var DefaultDenylist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bimport\s+os\b`),
	regexp.MustCompile(`(?i)\bsubprocess\b`),
	regexp.MustCompile(`(?i)\bsocket\b`),
	regexp.MustCompile(`(?i)\bshutil\.rmtree\b`),
}

// CodeExecutionOptions configures a CodeExecutionAgent.
type CodeExecutionOptions struct {
	Common
	Name       string
	MaxCodeLen int
	Timeout    time.Duration
	Denylist   []*regexp.Regexp
	Audit      audit.Sink
}

// CodeExecutionAgent validates code snippets and runs them on the first
// available executor.
type CodeExecutionAgent struct {
	BaseAgent
	executors *code.Candidates
	opts      CodeExecutionOptions
}

// NewCodeExecutionAgent creates the agent over the executor candidates.
func NewCodeExecutionAgent(executors *code.Candidates, optFns ...func(o *CodeExecutionOptions)) *CodeExecutionAgent {
	opts := CodeExecutionOptions{
		Name:       CodeExecutionAgentName,
		MaxCodeLen: DefaultMaxCodeLen,
		Timeout:    DefaultExecTimeout,
		Denylist:   DefaultDenylist,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if executors == nil {
		executors = code.NewCandidates()
	}
	return &CodeExecutionAgent{
		BaseAgent: NewBaseAgent(opts.Name, "Executes code snippets in a sandboxed environment", core.BackingScaffold, opts.Common),
		executors: executors,
		opts:      opts,
	}
}

// Run implements core.Agent.
//
// Validation happens in a fixed order: missing code, size, denylist. The
// executor then runs under the configured timeout. A missing executor yields
// not_implemented, a non-zero exit an error Result that still carries the
// output under "result".
func (a *CodeExecutionAgent) Run(ctx context.Context, req core.Request) (res core.Result, err error) {
	ctx, done := a.begin(ctx, req)
	defer func() { done(res, err) }()

	src, ok := req[core.KeyCode].(string)
	if !ok || src == "" {
		return a.fail(MsgMissingCode), nil
	}
	if a.opts.MaxCodeLen > 0 && len([]rune(src)) > a.opts.MaxCodeLen {
		return a.fail(MsgCodeTooLarge), nil
	}
	for _, re := range a.opts.Denylist {
		if re.MatchString(src) {
			a.logger.Warn("code.execute.forbidden", "pattern", re.String())
			a.metrics.IncCodeExecution("forbidden")
			return a.fail(MsgForbiddenPattern), nil
		}
	}

	exec, executorName, reasons := a.executors.Resolve()
	if exec == nil {
		a.logger.Warn("code.execute.unavailable", "errors", reasons)
		a.metrics.IncCodeExecution(core.StatusNotImplemented)
		r := core.NotImplemented(a.Name(), MsgNoExecutor)
		r["errors"] = reasons
		return r, nil
	}

	runCtx := ctx
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	out, execErr := exec.Execute(runCtx, src)
	a.auditRun(ctx, req.SessionID(), executorName, out, execErr)

	if execErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(execErr, context.DeadlineExceeded) || out.TimedOut {
			a.metrics.IncCodeExecution("timeout")
			return a.fail(MsgTimedOut), nil
		}
		if errors.Is(execErr, code.ErrUnavailable) {
			a.metrics.IncCodeExecution(core.StatusNotImplemented)
			r := core.NotImplemented(a.Name(), MsgNoExecutor)
			r["errors"] = []string{fmt.Sprintf("%s: %v", executorName, execErr)}
			return r, nil
		}
		a.metrics.IncCodeExecution(core.StatusError)
		a.logger.Error("code.execute.failed", "executor", executorName, "error", execErr)
		return a.fail(fmt.Sprintf("execution failed: %v", execErr)), nil
	}

	raw := out.Map()
	if out.ExitCode != 0 {
		a.metrics.IncCodeExecution(core.StatusError)
		return core.ErrorResultWith(fmt.Sprintf("code exited with status %d", out.ExitCode), map[string]any{
			core.KeyAgent:  a.Name(),
			core.KeyResult: raw,
		}), nil
	}
	a.metrics.IncCodeExecution(core.StatusSuccess)
	a.logger.Debug("code.execute.success", "executor", executorName, "duration", out.Duration)
	return core.Success(map[string]any{core.KeyResult: raw}), nil
}

func (a *CodeExecutionAgent) fail(msg string) core.Result {
	return core.ErrorResultWith(msg, map[string]any{core.KeyAgent: a.Name()})
}

func (a *CodeExecutionAgent) auditRun(ctx context.Context, sessionID, executor string, out code.Output, err error) {
	details := map[string]any{"executor": executor, "exit_code": out.ExitCode, "duration_ms": out.Duration.Milliseconds()}
	if err != nil {
		details[core.KeyError] = err.Error()
	}
	if aerr := audit.Record(context.WithoutCancel(ctx), a.opts.Audit, audit.Entry{
		SessionID: sessionID,
		Actor:     a.Name(),
		Action:    audit.ActionCodeExecute,
		Resource:  executor,
		Details:   details,
	}); aerr != nil {
		a.logger.Warn("code.audit.failed", "error", aerr)
	}
}
