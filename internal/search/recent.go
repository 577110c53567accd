package search

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RecentStore keeps each user's most recent submitted searches, newest
// first and without duplicates.
type RecentStore interface {
	// Add records query for uid and returns the updated list. Blank queries
	// are ignored.
	Add(ctx context.Context, uid, query string) ([]string, error)

	// List returns the recent searches of uid, newest first.
	List(ctx context.Context, uid string) ([]string, error)

	// Clear removes every recent search of uid.
	Clear(ctx context.Context, uid string) error
}

// --- MemoryRecentStore ---

// MemoryRecentStore is an in-memory RecentStore.
type MemoryRecentStore struct {
	limit int

	mu      sync.RWMutex
	entries map[string][]string
}

// NewMemoryRecentStore creates a new in-memory recent-search store keeping
// at most limit entries per user.
func NewMemoryRecentStore(limit int) *MemoryRecentStore {
	if limit <= 0 {
		limit = 5
	}
	return &MemoryRecentStore{limit: limit, entries: make(map[string][]string)}
}

// Add records a search.
func (s *MemoryRecentStore) Add(_ context.Context, uid, query string) ([]string, error) {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	if query == "" {
		return slices.Clone(s.entries[uid]), nil
	}
	list := slices.DeleteFunc(slices.Clone(s.entries[uid]), func(q string) bool { return q == query })
	list = append([]string{query}, list...)
	if len(list) > s.limit {
		list = list[:s.limit]
	}
	s.entries[uid] = list
	return slices.Clone(list), nil
}

// List returns recent searches.
func (s *MemoryRecentStore) List(_ context.Context, uid string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := slices.Clone(s.entries[uid])
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// Clear removes recent searches.
func (s *MemoryRecentStore) Clear(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, uid)
	return nil
}

// --- RedisRecentStore ---

// RedisRecentStore is a Redis-backed RecentStore. Each user's searches are a
// list under "{prefix}{uid}".
type RedisRecentStore struct {
	client redis.Cmdable
	prefix string
	limit  int
}

// NewRedisRecentStore creates a new Redis-backed recent-search store.
func NewRedisRecentStore(client redis.Cmdable, prefix string, limit int) *RedisRecentStore {
	if limit <= 0 {
		limit = 5
	}
	return &RedisRecentStore{client: client, prefix: prefix, limit: limit}
}

func (s *RedisRecentStore) key(uid string) string {
	return s.prefix + uid
}

// Add records a search. The remove, push and trim run in one MULTI block.
func (s *RedisRecentStore) Add(ctx context.Context, uid, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, uid)
	}

	key := s.key(uid)
	var rng *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, key, 0, query)
		pipe.LPush(ctx, key, query)
		pipe.LTrim(ctx, key, 0, int64(s.limit-1))
		rng = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis recent searches %q: %w", key, err)
	}
	return rng.Val(), nil
}

// List returns recent searches.
func (s *RedisRecentStore) List(ctx context.Context, uid string) ([]string, error) {
	list, err := s.client.LRange(ctx, s.key(uid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %q: %w", s.key(uid), err)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// Clear removes recent searches.
func (s *RedisRecentStore) Clear(ctx context.Context, uid string) error {
	if err := s.client.Del(ctx, s.key(uid)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", s.key(uid), err)
	}
	return nil
}
