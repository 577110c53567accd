package navigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore is a Redis-backed SessionStore. Each session is a JSON
// value under "{prefix}{id}" whose TTL follows the session's ExpiresAt.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSessionStore creates a new Redis-backed session store.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) key(id string) string {
	return s.prefix + id
}

// Create persists a new session. SETNX guards against id reuse.
func (s *RedisSessionStore) Create(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal navigation session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(sess.ID), data, ttlUntil(sess.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %q: %w", s.key(sess.ID), err)
	}
	if !ok {
		return alreadyExists(sess.ID)
	}
	return nil
}

// Get retrieves a session by id.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (Session, error) {
	return s.get(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisSessionStore) get(ctx context.Context, c getter, id string) (Session, error) {
	raw, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, notFound(id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get %q: %w", s.key(id), err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("unmarshal navigation session %q: %w", id, err)
	}
	return sess, nil
}

// Update persists a changed session with optimistic locking. The version
// check and write run inside a WATCH transaction, so a concurrent writer
// makes this call fail with CONFLICT.
func (s *RedisSessionStore) Update(ctx context.Context, sess Session) (Session, error) {
	key := s.key(sess.ID)
	var updated Session

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.get(ctx, tx, sess.ID)
		if err != nil {
			return err
		}
		if existing.Version != sess.Version {
			return versionConflict(sess.ID, sess.Version, existing.Version)
		}

		updated = sess
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshal navigation session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttlUntil(updated.ExpiresAt))
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return Session{}, versionConflict(sess.ID, sess.Version, sess.Version+1)
	}
	if err != nil {
		return Session{}, err
	}
	return updated, nil
}

// Delete removes a session.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del %q: %w", s.key(id), err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// ttlUntil converts an absolute expiry into a Redis TTL. Zero means no
// expiry; an expiry already in the past becomes the smallest TTL Redis
// accepts.
func ttlUntil(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}
