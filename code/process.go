package code

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ProcessOptions configures a ProcessExecutor.
type ProcessOptions struct {
	Interpreter string
	Args        []string
	// WorkDir is the directory runs execute in. Empty means a temporary
	// directory.
	WorkDir string
	Env     []string
	Limits  Limits
}

// ProcessExecutor runs snippets through a local interpreter, feeding the code
// on stdin. With Limits.Stateful the working directory persists between runs,
// otherwise each run gets a fresh one.
type ProcessExecutor struct {
	path string
	opts ProcessOptions

	mu      sync.Mutex
	workDir string
}

// NewProcessExecutor resolves the interpreter on PATH.
func NewProcessExecutor(opts ProcessOptions) (*ProcessExecutor, error) {
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	path, err := exec.LookPath(opts.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("%w: interpreter %q not found", ErrUnavailable, opts.Interpreter)
	}
	return &ProcessExecutor{path: path, opts: opts}, nil
}

// Execute implements Executor.
func (p *ProcessExecutor) Execute(ctx context.Context, code string) (Output, error) {
	dir, cleanup, err := p.dir()
	if err != nil {
		return Output{}, err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, p.path, p.opts.Args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(code)
	cmd.Env = append(minimalEnv(), p.opts.Env...)
	cmd.WaitDelay = time.Second

	max := p.opts.Limits.MaxOutputBytes
	stdout := &cappedBuffer{max: max}
	stderr := &cappedBuffer{max: max}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		out.ExitCode = -1
		return out, ctxErr
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("start %s: %w", p.opts.Interpreter, runErr)
	}
	return out, nil
}

// Close removes the persistent working directory of a stateful executor.
func (p *ProcessExecutor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workDir == "" || p.opts.WorkDir != "" {
		return nil
	}
	err := os.RemoveAll(p.workDir)
	p.workDir = ""
	return err
}

func (p *ProcessExecutor) dir() (string, func(), error) {
	if p.opts.WorkDir != "" {
		return p.opts.WorkDir, func() {}, nil
	}
	if p.opts.Limits.Stateful {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.workDir == "" {
			dir, err := os.MkdirTemp("", "devmesh-exec-")
			if err != nil {
				return "", nil, fmt.Errorf("create work dir: %w", err)
			}
			p.workDir = dir
		}
		return p.workDir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "devmesh-exec-")
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// minimalEnv keeps only what interpreters need to start.
func minimalEnv() []string {
	var env []string
	for _, key := range []string{"PATH", "HOME", "LANG", "TMPDIR", "SYSTEMROOT"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// cappedBuffer stops storing output after max bytes and keeps accepting
// writes so the child never blocks.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.max <= 0 {
		return c.buf.Write(p)
	}
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "...[truncated]"
	}
	return c.buf.String()
}
