package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ApplyStateDeltaAndClone(t *testing.T) {
	s := NewSession("s1")

	s.ApplyStateDelta(map[string]any{"a": 1, "b": "x"})
	if v, ok := s.GetState("a"); !ok || v.(int) != 1 {
		t.Fatalf("State not applied: %+v", s.State)
	}

	clone := s.Clone()
	if clone == s {
		t.Error("Clone should be a different pointer")
	}

	clone.SetState("c", 2)
	if _, exists := s.GetState("c"); exists {
		t.Error("Original should not have clone's new key")
	}
}

func TestSession_GeneratesID(t *testing.T) {
	s := NewSession("")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, SessionActive, s.Status)
}

func TestSession_AppendLogIsAppendOnly(t *testing.T) {
	s := NewSession("s1")
	s.AppendLog(KeyDelegations, map[string]any{"n": 1}, 0)
	first := s.Log(KeyDelegations)
	s.AppendLog(KeyDelegations, map[string]any{"n": 2}, 0)

	log := s.Log(KeyDelegations)
	require.Len(t, log, 2)
	assert.Equal(t, 1, log[0]["n"])
	assert.Equal(t, 2, log[1]["n"])
	assert.Len(t, first, 1, "earlier snapshots are not affected by later appends")
}

func TestSession_AppendLogLimit(t *testing.T) {
	s := NewSession("s1")
	for i := 0; i < 5; i++ {
		s.AppendLog(KeyTransfers, map[string]any{"n": i}, 3)
	}
	log := s.Log(KeyTransfers)
	require.Len(t, log, 3)
	assert.Equal(t, 2, log[0]["n"])
}

func TestSession_CloneDoesNotAliasLogs(t *testing.T) {
	s := NewSession("s1")
	s.AppendLog(KeyDelegations, map[string]any{"n": 1}, 0)
	c := s.Clone()
	c.AppendLog(KeyDelegations, map[string]any{"n": 2}, 0)
	assert.Len(t, s.Log(KeyDelegations), 1)
	assert.Len(t, c.Log(KeyDelegations), 2)
}

func TestSession_ConcurrentAppends(t *testing.T) {
	s := NewSession("s1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendLog(KeyToolExecutions, map[string]any{"n": i}, 0)
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Log(KeyToolExecutions), 50)
}

func TestSession_IsExpired(t *testing.T) {
	s := NewSession("s1")
	assert.False(t, s.IsExpired(time.Hour, s.Updated.Add(time.Minute)))
	assert.True(t, s.IsExpired(time.Hour, s.Updated.Add(2*time.Hour)))
	assert.False(t, s.IsExpired(0, s.Updated.Add(100*time.Hour)))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "developing_agent_state", StateKey("developing_agent"))
	assert.Equal(t, "developing_agent_result", ResultKey("developing_agent"))
	assert.Equal(t, "developing_agent_response", ResponseKey("developing_agent"))
}
