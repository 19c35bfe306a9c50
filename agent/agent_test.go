package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
)

// MockAgent is a testify mock implementing core.Agent.
type MockAgent struct {
	mock.Mock
	name string
}

func NewMockAgent(name string) *MockAgent {
	return &MockAgent{name: name}
}

func (m *MockAgent) Name() string { return m.name }

func (m *MockAgent) Description() string { return "mock " + m.name }

func (m *MockAgent) Run(ctx context.Context, req core.Request) (core.Result, error) {
	args := m.Called(ctx, req)
	var res core.Result
	if v := args.Get(0); v != nil {
		res = v.(core.Result)
	}
	return res, args.Error(1)
}

func TestBaseAgent_FindAgent(t *testing.T) {
	leaf := NewMockAgent("leaf")
	inner := NewSequentialAgent([]core.Agent{leaf}, func(o *SequentialOptions) { o.Name = "inner" })
	outer := NewParallelAgent([]core.Agent{NewMockAgent("sibling"), inner})

	assert.Equal(t, leaf, outer.FindAgent("leaf"))
	assert.Equal(t, core.Agent(inner), outer.FindAgent("inner"))
	assert.Nil(t, outer.FindAgent("missing"))
}

func TestBaseAgent_Info(t *testing.T) {
	seq := NewSequentialAgent([]core.Agent{NewMockAgent("a"), NewMockAgent("b")})

	info := seq.Info()
	assert.Equal(t, SequentialAgentName, info.Name)
	assert.Equal(t, core.BackingScaffold, info.Backing)
	assert.Equal(t, []string{"a", "b"}, info.SubAgents)
	assert.Zero(t, info.ExecutionCount)
}

func TestBaseAgent_ExecutionCount(t *testing.T) {
	seq := NewSequentialAgent(nil)

	for i := 0; i < 3; i++ {
		_, err := seq.Run(context.Background(), core.Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), seq.ExecutionCount())
}

func TestRequestFrom(t *testing.T) {
	req := core.Request{"message": "hi"}
	ctx := core.WithSessionID(context.Background(), "s-1")

	out := requestFrom(ctx, req)
	assert.Equal(t, "s-1", out.SessionID())
	_, mutated := req[core.KeySessionID]
	assert.False(t, mutated)

	explicit := requestFrom(ctx, core.Request{core.KeySessionID: "s-2"})
	assert.Equal(t, "s-2", explicit.SessionID())
}

func TestInstruction(t *testing.T) {
	static := NewInstructionFromText("be brief")
	assert.True(t, static.IsStatic())
	text, err := static.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "be brief", text)

	dynamic := NewInstructionFromFunc(func(_ context.Context, req core.Request) (string, error) {
		return "answer in " + req.String("lang"), nil
	})
	assert.False(t, dynamic.IsStatic())
	text, err = dynamic.Resolve(context.Background(), core.Request{"lang": "go"})
	require.NoError(t, err)
	assert.Equal(t, "answer in go", text)
}
