package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/devmesh/core"
)

// DefaultKeyPrefix namespaces session keys in redis.
const DefaultKeyPrefix = "devmesh:session:"

const maxTxRetries = 100

// RedisStore keeps each session as a JSON document. Update runs inside an
// optimistic WATCH/MULTI transaction and retries on conflicts, so appends to
// the coordination logs are atomic across processes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	KeyPrefix string
	// TTL is applied to the key on every write. Zero disables expiry.
	TTL time.Duration
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{KeyPrefix: DefaultKeyPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL}
}

// DialRedis parses url, connects and verifies the connection.
func DialRedis(ctx context.Context, url string, optFns ...func(o *RedisOptions)) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStore(client, optFns...), nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

// Create stores a new session unless the id already exists.
func (s *RedisStore) Create(ctx context.Context, id string) (*core.Session, error) {
	sess := core.NewSession(id)
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(sess.ID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return s.Get(ctx, sess.ID)
	}
	return sess, nil
}

// Get loads the session or returns core.ErrSessionNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*core.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(data)
}

// Update applies fn inside an optimistic transaction, creating the session
// when absent.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*core.Session) error) (*core.Session, error) {
	key := s.key(id)
	var result *core.Session

	txf := func(tx *redis.Tx) error {
		sess := core.NewSession(id)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if sess, err = decodeSession(data); err != nil {
				return err
			}
		}

		if err := fn(sess); err != nil {
			return &callbackError{err: err}
		}
		sess.Touch()

		encoded, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err == nil {
			result = sess
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var cbErr *callbackError
		if errors.As(err, &cbErr) {
			return nil, cbErr.err
		}
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}
	return nil, fmt.Errorf("update session %s: too many concurrent writers", id)
}

// Delete removes the session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List scans every session key under the prefix.
func (s *RedisStore) List(ctx context.Context) ([]*core.Session, error) {
	var out []*core.Session
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), s.prefix)
		sess, err := s.Get(ctx, id)
		if errors.Is(err, core.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

func decodeSession(data []byte) (*core.Session, error) {
	sess := &core.Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	return sess, nil
}

// callbackError marks errors returned by the caller's update function so they
// are not retried or wrapped.
type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }
