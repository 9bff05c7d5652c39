package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// 需要本地 Redis；不可用时跳过。
const testRedisAddr = "localhost:6379"

func setupTestCache(t *testing.T, prefix string) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	c := New(client, prefix, time.Minute)
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = client.Close()
	})
	return c
}

type profile struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
}

func TestNew(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	defer client.Close()

	c := New(client, "test:", 10*time.Minute)
	if c.prefix != "test:" {
		t.Errorf("prefix = %q, want %q", c.prefix, "test:")
	}
	if c.ttl != 10*time.Minute {
		t.Errorf("ttl = %v, want %v", c.ttl, 10*time.Minute)
	}
	if got := c.Snapshot(); got != (StatsSnapshot{}) {
		t.Errorf("Snapshot() = %+v, want zero", got)
	}
}

func TestCache_SetGetDelete(t *testing.T) {
	c := setupTestCache(t, "chatserver:test:profile:")
	ctx := context.Background()

	var got profile
	found, err := c.Get(ctx, "user:u1", &got)
	if err != nil || found {
		t.Fatalf("Get() on empty cache = %v, %v", found, err)
	}

	want := profile{ID: "u1", FirstName: "Ann"}
	if err := c.Set(ctx, "user:u1", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	found, err = c.Get(ctx, "user:u1", &got)
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v; want hit", found, err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	if err := c.Delete(ctx, "user:u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	found, _ = c.Get(ctx, "user:u1", &got)
	if found {
		t.Error("Get() after Delete() still hits")
	}

	s := c.Snapshot()
	if s.Hits != 1 || s.Misses != 2 || s.Sets != 1 {
		t.Errorf("Snapshot() = %+v", s)
	}
}

func TestCache_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	c := New(client, "x:", time.Minute)

	var got profile
	found, err := c.Get(context.Background(), "k", &got)
	if err == nil || found {
		t.Errorf("Get() against unreachable redis = %v, %v; want error", found, err)
	}
	if c.Snapshot().Errors != 1 {
		t.Errorf("Errors = %d, want 1", c.Snapshot().Errors)
	}
}
