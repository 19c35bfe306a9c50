package core

import (
	"context"
	"sync"
	"time"
)

// Shared coordination keys in session state.
const (
	KeyDelegations    = "delegations"
	KeyTransfers      = "transfers"
	KeyToolExecutions = "tool_executions"
	KeyActiveAgent    = "active_agent"
)

// Session status values.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

// StateKey returns the namespaced state key owned by agent.
func StateKey(agent string) string { return agent + "_state" }

// ResultKey returns the key a delegation writes the target result to.
func ResultKey(agent string) string { return agent + "_result" }

// ResponseKey returns the key inference writes an agent's answer to.
func ResponseKey(agent string) string { return agent + "_response" }

// Session is the shared state container for one conversation. State holds
// namespaced agent keys and the append-only coordination logs. It is safe for
// concurrent access.
type Session struct {
	ID       string            `json:"id"`
	UserID   string            `json:"user_id,omitempty"`
	Project  string            `json:"project,omitempty"`
	Status   string            `json:"status"`
	State    map[string]any    `json:"state"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
	Metadata map[string]string `json:"metadata,omitempty"`
	mu       sync.RWMutex
}

// NewSession creates an active session with the given id. An empty id is
// replaced by a generated one.
func NewSession(id string) *Session {
	if id == "" {
		id = NewID()
	}
	now := Now()
	return &Session{
		ID:       id,
		Status:   SessionActive,
		State:    map[string]any{},
		Created:  now,
		Updated:  now,
		Metadata: map[string]string{},
	}
}

// GetState returns the value stored under key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return copyValue(v), ok
}

// SetState stores value under key.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure()
	s.State[key] = value
	s.Updated = Now()
}

// ApplyStateDelta merges delta into the state.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure()
	for k, v := range delta {
		s.State[k] = v
	}
	s.Updated = Now()
}

// AppendLog appends entry to the log stored under key. Existing entries are
// never modified. A positive limit keeps only the newest limit entries.
func (s *Session) AppendLog(key string, entry map[string]any, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure()
	entries := toEntries(s.State[key])
	next := make([]any, 0, len(entries)+1)
	next = append(next, entries...)
	next = append(next, copyValue(entry))
	if limit > 0 && len(next) > limit {
		next = next[len(next)-limit:]
	}
	s.State[key] = next
	s.Updated = Now()
}

// Log returns a deep copy of the log stored under key.
func (s *Session) Log(key string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := toEntries(s.State[key])
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if m, ok := e.(map[string]any); ok {
			out = append(out, copyMap(m))
		}
	}
	return out
}

// Snapshot returns a copy of the state map. Maps and lists are copied
// recursively.
func (s *Session) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.State))
	for k, v := range s.State {
		out[k] = copyValue(v)
	}
	return out
}

// Touch refreshes the Updated timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.Updated = Now()
	s.mu.Unlock()
}

// IsExpired reports whether the session has been idle longer than ttl.
func (s *Session) IsExpired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.Updated) > ttl
}

// Clone returns a copy of the session safe for independent mutation. State
// maps and lists, log entries included, are copied recursively.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Session{
		ID:       s.ID,
		UserID:   s.UserID,
		Project:  s.Project,
		Status:   s.Status,
		State:    make(map[string]any, len(s.State)),
		Created:  s.Created,
		Updated:  s.Updated,
		Metadata: make(map[string]string, len(s.Metadata)),
	}
	for k, v := range s.State {
		c.State[k] = copyValue(v)
	}
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	return c
}

func (s *Session) ensure() {
	if s.State == nil {
		s.State = map[string]any{}
	}
}

// copyValue copies the JSON-shaped containers in v. Other values are returned
// as is.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = copyMap(m)
		}
		return out
	default:
		return v
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func toEntries(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// SessionStore persists sessions.
//
// Update is the only mutation path for shared logs: implementations load the
// session (creating it when absent), apply fn and persist the result
// atomically with respect to other Update calls on the same id.
type SessionStore interface {
	Create(ctx context.Context, id string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}
