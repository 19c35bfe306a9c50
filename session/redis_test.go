package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("DEVMESH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DEVMESH_TEST_REDIS_URL not set")
	}
	prefix := "devmesh:test:" + core.NewID() + ":"
	s, err := DialRedis(context.Background(), url, func(o *RedisOptions) {
		o.KeyPrefix = prefix
		o.TTL = time.Minute
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	sess, err := s.Create(ctx, "")
	require.NoError(t, err)

	_, err = s.Update(ctx, sess.ID, func(sess *core.Session) error {
		sess.SetState(core.KeyActiveAgent, "developing_agent")
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	v, _ := got.GetState(core.KeyActiveAgent)
	assert.Equal(t, "developing_agent", v)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Delete(ctx, sess.ID))
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestRedisStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
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
	assert.Len(t, got.Log(core.KeyDelegations), 20)
}

func TestDialRedis_RequiresURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "")
	assert.Error(t, err)
}
