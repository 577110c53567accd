package search

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func recentStores(t *testing.T) map[string]RecentStore {
	return map[string]RecentStore{
		"memory": NewMemoryRecentStore(5),
		"redis":  NewRedisRecentStore(newTestRedis(t), "recent:", 5),
	}
}

func TestRecentStore_newest_first_dedup_limit(t *testing.T) {
	for name, store := range recentStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, q := range []string{"shirt", "jeans", "shirt", "dress", "cap", "belt", "watch"} {
				if _, err := store.Add(ctx, "u1", q); err != nil {
					t.Fatalf("Add(%q) error = %v", q, err)
				}
			}
			got, err := store.List(ctx, "u1")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			want := []string{"watch", "belt", "cap", "dress", "shirt"}
			if !equalIDs(got, want) {
				t.Errorf("List() = %v, want %v", got, want)
			}
		})
	}
}

func TestRecentStore_blank_and_isolation(t *testing.T) {
	for name, store := range recentStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got, err := store.Add(ctx, "u1", "   ")
			if err != nil {
				t.Fatalf("Add(blank) error = %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Add(blank) = %v, want empty", got)
			}

			_, _ = store.Add(ctx, "u1", " jeans ")
			other, _ := store.List(ctx, "u2")
			if len(other) != 0 {
				t.Errorf("List(u2) = %v, want empty", other)
			}
			mine, _ := store.List(ctx, "u1")
			if !equalIDs(mine, []string{"jeans"}) {
				t.Errorf("List(u1) = %v, want [jeans]", mine)
			}
		})
	}
}

func TestRecentStore_Clear(t *testing.T) {
	for name, store := range recentStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _ = store.Add(ctx, "u1", "jeans")
			if err := store.Clear(ctx, "u1"); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			got, _ := store.List(ctx, "u1")
			if got == nil || len(got) != 0 {
				t.Errorf("List() after Clear = %#v, want empty", got)
			}
		})
	}
}
