package code

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellExecutor(t *testing.T, limits Limits) *ProcessExecutor {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p, err := NewProcessExecutor(ProcessOptions{Interpreter: "sh", Args: []string{"-s"}, Limits: limits})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProcessExecutor_Success(t *testing.T) {
	p := shellExecutor(t, Limits{})
	out, err := p.Execute(context.Background(), "echo hello; echo oops 1>&2")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)
	assert.Equal(t, 0, out.ExitCode)

	m := out.Map()
	assert.Equal(t, 0, m["exit_code"])
	assert.Contains(t, m, "duration_ms")
}

func TestProcessExecutor_NonZeroExitIsCompletedRun(t *testing.T) {
	p := shellExecutor(t, Limits{})
	out, err := p.Execute(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
}

func TestProcessExecutor_Timeout(t *testing.T) {
	p := shellExecutor(t, Limits{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := p.Execute(ctx, "sleep 5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, out.TimedOut)
}

func TestProcessExecutor_OutputCap(t *testing.T) {
	p := shellExecutor(t, Limits{MaxOutputBytes: 4})
	out, err := p.Execute(context.Background(), "echo abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, "abcd...[truncated]", out.Stdout)
}

func TestProcessExecutor_Stateful(t *testing.T) {
	p := shellExecutor(t, Limits{Stateful: true})
	_, err := p.Execute(context.Background(), "echo kept > state.txt")
	require.NoError(t, err)
	out, err := p.Execute(context.Background(), "cat state.txt")
	require.NoError(t, err)
	assert.Equal(t, "kept\n", out.Stdout)

	fresh := shellExecutor(t, Limits{})
	_, _ = fresh.Execute(context.Background(), "echo gone > state.txt")
	out, err = fresh.Execute(context.Background(), "cat state.txt")
	require.NoError(t, err)
	assert.NotEqual(t, 0, out.ExitCode)
}

func TestNewProcessExecutor_MissingInterpreter(t *testing.T) {
	_, err := NewProcessExecutor(ProcessOptions{Interpreter: "definitely-not-an-interpreter-xyz"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCandidates(t *testing.T) {
	calls := 0
	ok := ExecutorFunc(func(context.Context, string) (Output, error) { return Output{}, nil })
	c := NewCandidates(
		Unavailable("vertex", "no credentials"),
		Factory{Name: "builtin", New: func() (Executor, error) {
			calls++
			return ok, nil
		}},
	)

	exec, name, errs := c.Resolve()
	require.NotNil(t, exec)
	assert.Equal(t, "builtin", name)
	assert.Empty(t, errs)

	_, _, _ = c.Resolve()
	assert.Equal(t, 1, calls, "resolved executor is cached")
	assert.Equal(t, []string{"vertex", "builtin"}, c.Names())
}

func TestCandidates_NoneAvailable(t *testing.T) {
	c := NewCandidates(Unavailable("a", "x"), Unavailable("b", "y"))
	exec, _, errs := c.Resolve()
	assert.Nil(t, exec)
	require.Len(t, errs, 2)
	assert.True(t, strings.HasPrefix(errs[0], "a: "))

	_, _, errs = NewCandidates().Resolve()
	assert.Len(t, errs, 1)
}

func TestRetryExecutor(t *testing.T) {
	cfg := RetryConfig{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("retries start failures", func(t *testing.T) {
		n := 0
		r := WithRetry(ExecutorFunc(func(context.Context, string) (Output, error) {
			n++
			if n < 3 {
				return Output{}, errors.New("fork failed")
			}
			return Output{Stdout: "ok"}, nil
		}), cfg)
		out, err := r.Execute(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, "ok", out.Stdout)
		assert.Equal(t, 3, n)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		n := 0
		r := WithRetry(ExecutorFunc(func(context.Context, string) (Output, error) {
			n++
			return Output{}, errors.New("fork failed")
		}), cfg)
		_, err := r.Execute(context.Background(), "x")
		assert.Error(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("does not retry completed runs", func(t *testing.T) {
		n := 0
		r := WithRetry(ExecutorFunc(func(context.Context, string) (Output, error) {
			n++
			return Output{ExitCode: 1}, nil
		}), cfg)
		out, err := r.Execute(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1, out.ExitCode)
		assert.Equal(t, 1, n)
	})

	t.Run("does not retry unavailability or timeouts", func(t *testing.T) {
		for _, e := range []error{ErrUnavailable, context.DeadlineExceeded} {
			n := 0
			r := WithRetry(ExecutorFunc(func(context.Context, string) (Output, error) {
				n++
				return Output{}, e
			}), cfg)
			_, err := r.Execute(context.Background(), "x")
			assert.ErrorIs(t, err, e)
			assert.Equal(t, 1, n)
		}
	})
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 0; attempt < 6; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab...[truncated]", Truncate("abcdef", 2))
}
