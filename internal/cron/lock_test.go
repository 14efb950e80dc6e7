package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	pkgredis "github.com/heuristiclogix/eventrelay/pkg/redis"
)

func newLockPair(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisLock, *RedisLock) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := pkgredis.FromRaw(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	a, err := NewRedisLock(client, client.LockKey("cron"), ttl)
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	b, err := NewRedisLock(client, client.LockKey("cron"), ttl)
	if err != nil {
		t.Fatalf("lock b: %v", err)
	}
	return srv, a, b
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	_, a, b := newLockPair(t, time.Minute)

	if ok, err := a.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected a to acquire, ok=%v err=%v", ok, err)
	}
	if ok, err := b.Acquire(ctx); err != nil || ok {
		t.Fatalf("expected b to be refused, ok=%v err=%v", ok, err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := b.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected b to acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseLeavesForeignOwner(t *testing.T) {
	ctx := context.Background()
	srv, a, b := newLockPair(t, time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("expected a to acquire")
	}
	srv.FastForward(2 * time.Minute)
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("expected b to acquire after expiry")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := a.Acquire(ctx); ok {
		t.Fatal("stale release must not free b's lock")
	}
}

func TestRedisLockRefusesReentry(t *testing.T) {
	ctx := context.Background()
	_, a, _ := newLockPair(t, time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("expected a to acquire")
	}
	if _, err := a.Acquire(ctx); err == nil {
		t.Fatal("expected error acquiring a lease already held")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
}

func TestNewRedisLockValidation(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0); err == nil {
		t.Fatal("expected error for nil client")
	}
}
