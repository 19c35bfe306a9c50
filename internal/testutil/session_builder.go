package testutil

import (
	"context"
	"testing"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/session"
)

// SessionBuilder constructs sessions fluently:
//
//	sess := NewSessionBuilder("sess-1").State("user", "ada").Build()
type SessionBuilder struct {
	id    string
	state map[string]any
}

// NewSessionBuilder creates a builder for session id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, state: map[string]any{}}
}

// State sets a state key.
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// Build returns the session.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	for k, v := range b.state {
		s.SetState(k, v)
	}
	return s
}

// Store creates an in-memory state store holding the built session.
func (b *SessionBuilder) Store(t testing.TB) *session.StateStore {
	t.Helper()
	store := session.NewStateStore(session.NewInMemoryStore())
	ctx := context.Background()
	if _, err := store.Backend().Create(ctx, b.id); err != nil {
		t.Fatalf("create session %s: %v", b.id, err)
	}
	if len(b.state) > 0 {
		if err := store.Apply(ctx, b.id, b.state); err != nil {
			t.Fatalf("seed session %s: %v", b.id, err)
		}
	}
	return store
}
