package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/internal/testutil"
)

func TestModelAgent_Run(t *testing.T) {
	inf := &testutil.ScriptedInference{Events: []core.Event{
		testutil.NewEventBuilder().Author("writer").Text("Once upon a time").StateDelta(map[string]any{"draft": 1}).Build(),
	}}
	writer := NewModelAgent("writer", inf, func(o *ModelAgentOptions) {
		o.Description = "Writes stories"
		o.Instruction = NewInstructionFromFunc(func(_ context.Context, req core.Request) (string, error) {
			return "Write for " + req.String("audience"), nil
		})
		o.OutputKey = "story"
	})
	assert.Equal(t, core.BackingLLM, writer.Backing())

	ctx := core.WithSessionID(context.Background(), "s-1")
	res, err := writer.Run(ctx, core.Request{"audience": "kids"})
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.Equal(t, "Once upon a time", res[core.KeyResponse])
	assert.Equal(t, map[string]any{"state_delta": map[string]any{"draft": 1}}, res[core.KeyEventActions])

	require.Len(t, inf.Inputs, 1)
	in := inf.Inputs[0]
	assert.Equal(t, "Write for kids", in.Instruction)
	assert.Equal(t, "Writes stories", in.Description)
	assert.Equal(t, "story", in.OutputKey)
	assert.Equal(t, "s-1", in.SessionID)
	assert.Equal(t, "s-1", in.Request.SessionID())
}

func TestModelAgent_Failures(t *testing.T) {
	t.Run("no inference", func(t *testing.T) {
		res, err := NewModelAgent("m", nil).Run(context.Background(), core.Request{})
		require.NoError(t, err)
		assert.Equal(t, core.StatusNotImplemented, res.Status())
	})

	t.Run("instruction provider", func(t *testing.T) {
		m := NewModelAgent("m", &testutil.ScriptedInference{}, func(o *ModelAgentOptions) {
			o.Instruction = NewInstructionFromFunc(func(context.Context, core.Request) (string, error) {
				return "", errors.New("prompt store down")
			})
		})
		res, err := m.Run(context.Background(), core.Request{})
		require.NoError(t, err)
		assert.Equal(t, "resolve instruction: prompt store down", res.ErrorMessage())
	})

	t.Run("inference error", func(t *testing.T) {
		m := NewModelAgent("m", &testutil.ScriptedInference{Err: errors.New("rate limited")})
		res, err := m.Run(context.Background(), core.Request{})
		require.NoError(t, err)
		assert.Equal(t, "rate limited", res.ErrorMessage())
		assert.Equal(t, "m", res[core.KeyAgent])
	})
}
