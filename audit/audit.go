// Package audit records who did what to which resource during a session.
// Entries are written to one or more sinks: an in-memory ring that can be
// queried, and an AMQP publisher for shipping entries to external systems.
package audit

import (
	"context"
	"errors"
	"time"
)

// Common actions.
const (
	ActionDelegate     = "delegate"
	ActionTransfer     = "transfer"
	ActionToolCall     = "tool_call"
	ActionCodeExecute  = "code_execute"
	ActionArtifactSave = "artifact_save"
	ActionBlocked      = "security_blocked"
	ActionSessionNew   = "session_create"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink receives audit entries. Implementations must be safe for concurrent
// use.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// Nop discards entries.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Entry) error { return nil }

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Record stamps e and writes it to sink. A nil sink discards the entry.
func Record(ctx context.Context, sink Sink, e Entry) error {
	if sink == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return sink.Record(ctx, e)
}
