package audit

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the in-memory trail.
const DefaultMaxEntries = 10000

// Memory keeps the newest entries in a ring buffer.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewMemory creates a ring holding at most max entries.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Memory{entries: make([]Entry, max)}
}

// Record implements Sink.
func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.next] = e
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Len returns the number of retained entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.entries)
	}
	return m.next
}

// Filter selects entries in Query. Zero fields match everything.
type Filter struct {
	SessionID string
	Actor     string
	Action    string
	Since     time.Time
	Limit     int
}

func (f Filter) match(e Entry) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Query returns matching entries oldest first. A positive Limit keeps the
// newest Limit matches.
func (m *Memory) Query(f Filter) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ordered []Entry
	if m.full {
		ordered = append(ordered, m.entries[m.next:]...)
	}
	ordered = append(ordered, m.entries[:m.next]...)

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
