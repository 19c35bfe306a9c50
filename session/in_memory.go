package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hupe1980/devmesh/core"
)

// DefaultMaxSessions bounds the in-memory store when no size is given.
const DefaultMaxSessions = 10000

// InMemoryStore is a volatile SessionStore keeping sessions in a bounded LRU.
// Sessions idle for longer than the TTL are evicted; every Update refreshes
// the TTL. Returned sessions are clones, so callers cannot mutate stored
// state outside Update.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *core.Session]
}

// InMemoryOptions configures NewInMemoryStore.
type InMemoryOptions struct {
	MaxSessions int
	// TTL is the idle timeout. Zero keeps sessions until evicted by size.
	TTL     time.Duration
	OnEvict func(id string)
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{MaxSessions: DefaultMaxSessions}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}

	var onEvict expirable.EvictCallback[string, *core.Session]
	if opts.OnEvict != nil {
		onEvict = func(id string, _ *core.Session) { opts.OnEvict(id) }
	}

	return &InMemoryStore{
		sessions: expirable.NewLRU[string, *core.Session](opts.MaxSessions, onEvict, opts.TTL),
	}
}

// Create stores a new session. An empty id is replaced by a generated one.
// Creating an id that already exists returns the existing session.
func (s *InMemoryStore) Create(_ context.Context, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions.Get(id); ok {
			return sess.Clone(), nil
		}
	}
	sess := core.NewSession(id)
	s.sessions.Add(sess.ID, sess)
	return sess.Clone(), nil
}

// Get returns a clone of the session or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(_ context.Context, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	return sess.Clone(), nil
}

// Update applies fn to the stored session, creating it when absent. Changes
// are kept only when fn succeeds.
func (s *InMemoryStore) Update(ctx context.Context, id string, fn func(*core.Session) error) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions.Get(id)
	if !ok {
		current = core.NewSession(id)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Touch()
	s.sessions.Add(next.ID, next)
	return next.Clone(), nil
}

// Delete removes the session. Unknown ids are ignored.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Remove(id)
	return nil
}

// List returns clones of every live session ordered by creation time.
func (s *InMemoryStore) List(_ context.Context) ([]*core.Session, error) {
	s.mu.Lock()
	values := s.sessions.Values()
	s.mu.Unlock()

	out := make([]*core.Session, 0, len(values))
	for _, sess := range values {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// Len returns the number of live sessions.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}
