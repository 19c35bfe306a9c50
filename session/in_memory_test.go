package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
)

var _ core.SessionStore = (*InMemoryStore)(nil)
var _ core.SessionStore = (*RedisStore)(nil)

func TestInMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	sess, err := s.Create(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	again, err := s.Create(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Created, again.Created)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestInMemoryStore_UpdateCreatesAndIsolates(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	updated, err := s.Update(ctx, "s1", func(sess *core.Session) error {
		sess.SetState("k", "v")
		return nil
	})
	require.NoError(t, err)
	updated.SetState("k", "mutated outside")

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	v, _ := got.GetState("k")
	assert.Equal(t, "v", v)
}

func TestInMemoryStore_UpdateErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_, err := s.Create(ctx, "s1")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update(ctx, "s1", func(sess *core.Session) error {
		sess.SetState("k", "v")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Get(ctx, "s1")
	_, ok := got.GetState("k")
	assert.False(t, ok)
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, "s1", func(sess *core.Session) error {
				sess.AppendLog(core.KeyDelegations, map[string]any{"n": i}, 0)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Log(core.KeyDelegations), 100)
}

func TestInMemoryStore_BoundedAndExpiring(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	s := NewInMemoryStore(func(o *InMemoryOptions) {
		o.MaxSessions = 2
		o.OnEvict = func(id string) { evicted = append(evicted, id) }
	})
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a"}, evicted)

	short := NewInMemoryStore(func(o *InMemoryOptions) { o.TTL = 20 * time.Millisecond })
	_, err := short.Create(ctx, "x")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, err := short.Get(ctx, "x")
		return errors.Is(err, core.ErrSessionNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestInMemoryStore_ListDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_, _ = s.Create(ctx, "a")
	_, _ = s.Create(ctx, "b")

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "a"))
	all, _ = s.List(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)
}

func TestInMemoryStore_CancelledUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewInMemoryStore().Update(ctx, "s", func(*core.Session) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
