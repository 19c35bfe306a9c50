package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/devmesh/core"
)

// LogLimits caps the coordination logs. Zero keeps every entry, which keeps
// the logs strictly append-only.
type LogLimits struct {
	Delegations    int
	Transfers      int
	ToolExecutions int
}

func (l LogLimits) limit(key string) int {
	switch key {
	case core.KeyDelegations:
		return l.Delegations
	case core.KeyTransfers:
		return l.Transfers
	case core.KeyToolExecutions:
		return l.ToolExecutions
	default:
		return 0
	}
}

// StateStore is the session state API used by agents: namespaced keys,
// append-only coordination logs and session lifecycle on top of a
// core.SessionStore backend.
type StateStore struct {
	store  core.SessionStore
	limits LogLimits
}

// NewStateStore wraps store.
func NewStateStore(store core.SessionStore, optFns ...func(l *LogLimits)) *StateStore {
	s := &StateStore{store: store}
	for _, fn := range optFns {
		fn(&s.limits)
	}
	return s
}

// Backend returns the wrapped session store.
func (s *StateStore) Backend() core.SessionStore { return s.store }

// Begin creates a new session for user and project.
func (s *StateStore) Begin(ctx context.Context, userID, project string) (*core.Session, error) {
	sess, err := s.store.Create(ctx, "")
	if err != nil {
		return nil, err
	}
	return s.store.Update(ctx, sess.ID, func(sess *core.Session) error {
		sess.UserID = userID
		sess.Project = project
		return nil
	})
}

// Get returns a snapshot of the session.
func (s *StateStore) Get(ctx context.Context, id string) (*core.Session, error) {
	return s.store.Get(ctx, id)
}

// Value returns the value stored under key in session id.
func (s *StateStore) Value(ctx context.Context, id, key string) (any, bool, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	v, ok := sess.GetState(key)
	return v, ok, nil
}

// Set stores value under key.
func (s *StateStore) Set(ctx context.Context, id, key string, value any) error {
	_, err := s.store.Update(ctx, id, func(sess *core.Session) error {
		sess.SetState(key, value)
		return nil
	})
	return err
}

// Apply merges delta into the session state.
func (s *StateStore) Apply(ctx context.Context, id string, delta map[string]any) error {
	if len(delta) == 0 {
		return nil
	}
	_, err := s.store.Update(ctx, id, func(sess *core.Session) error {
		sess.ApplyStateDelta(delta)
		return nil
	})
	return err
}

// SetAgentState writes the "<agent>_state" key.
func (s *StateStore) SetAgentState(ctx context.Context, id, agent string, value any) error {
	return s.Set(ctx, id, core.StateKey(agent), value)
}

// SetResponse writes the "<agent>_response" key.
func (s *StateStore) SetResponse(ctx context.Context, id, agent, response string) error {
	return s.Set(ctx, id, core.ResponseKey(agent), response)
}

// Append atomically appends entry to the log stored under key.
func (s *StateStore) Append(ctx context.Context, id, key string, entry map[string]any) error {
	_, err := s.store.Update(ctx, id, func(sess *core.Session) error {
		sess.AppendLog(key, entry, s.limits.limit(key))
		return nil
	})
	return err
}

// RecordDelegation writes the target result and appends the delegation record
// in one atomic update.
func (s *StateStore) RecordDelegation(ctx context.Context, id string, rec core.DelegationRecord, result any) error {
	_, err := s.store.Update(ctx, id, func(sess *core.Session) error {
		if rec.Status == core.DelegationCompleted || result != nil {
			sess.SetState(core.ResultKey(rec.To), map[string]any{
				"result":        result,
				"delegation_id": rec.DelegationID,
				"completed_at":  rec.Timestamp,
			})
		}
		sess.AppendLog(core.KeyDelegations, rec.Map(), s.limits.Delegations)
		return nil
	})
	return err
}

// RecordTransfer appends the transfer record and moves active_agent.
func (s *StateStore) RecordTransfer(ctx context.Context, id string, rec core.TransferRecord) error {
	_, err := s.store.Update(ctx, id, func(sess *core.Session) error {
		sess.AppendLog(core.KeyTransfers, rec.Map(), s.limits.Transfers)
		sess.SetState(core.KeyActiveAgent, rec.To)
		return nil
	})
	return err
}

// RecordToolExecution appends a tool execution record.
func (s *StateStore) RecordToolExecution(ctx context.Context, id string, rec core.ToolExecutionRecord) error {
	return s.Append(ctx, id, core.KeyToolExecutions, rec.Map())
}

// Log returns the entries of the log stored under key.
func (s *StateStore) Log(ctx context.Context, id, key string) ([]map[string]any, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Log(key), nil
}

// ActiveAgent returns the active_agent pointer or "".
func (s *StateStore) ActiveAgent(ctx context.Context, id string) (string, error) {
	v, ok, err := s.Value(ctx, id, core.KeyActiveAgent)
	if err != nil || !ok {
		return "", err
	}
	name, _ := v.(string)
	return name, nil
}

// Summary is a compact description of a session.
type Summary struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	Project        string    `json:"project,omitempty"`
	Status         string    `json:"status"`
	ActiveAgent    string    `json:"active_agent,omitempty"`
	Delegations    int       `json:"delegations"`
	Transfers      int       `json:"transfers"`
	ToolExecutions int       `json:"tool_executions"`
	StateKeys      int       `json:"state_keys"`
	Created        time.Time `json:"created"`
	Updated        time.Time `json:"updated"`
}

// Summary describes session id.
func (s *StateStore) Summary(ctx context.Context, id string) (Summary, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	active, _ := sess.GetState(core.KeyActiveAgent)
	activeName, _ := active.(string)
	return Summary{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		Project:        sess.Project,
		Status:         sess.Status,
		ActiveAgent:    activeName,
		Delegations:    len(sess.Log(core.KeyDelegations)),
		Transfers:      len(sess.Log(core.KeyTransfers)),
		ToolExecutions: len(sess.Log(core.KeyToolExecutions)),
		StateKeys:      len(sess.Snapshot()),
		Created:        sess.Created,
		Updated:        sess.Updated,
	}, nil
}

// Close marks the session closed.
func (s *StateStore) Close(ctx context.Context, id string) error {
	_, err := s.store.Update(ctx, id, func(sess *core.Session) error {
		if sess.Status == core.SessionClosed {
			return fmt.Errorf("session %s already closed", id)
		}
		sess.Status = core.SessionClosed
		return nil
	})
	return err
}
