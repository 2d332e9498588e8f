package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, maxAttempts int) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), maxAttempts, time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t, 3)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", 3, time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisStoreLocksAfterMaxAttempts(t *testing.T) {
	store, s := setupTestRedis(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.RecordFailure(ctx, "Alice@Example.com"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	locked, _, err := store.IsLocked(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if locked {
		t.Fatal("expected account to be unlocked below the threshold")
	}

	if err := store.RecordFailure(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	locked, retryAfter, err := store.IsLocked(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if !locked || retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("expected lock with retry in (0, 1m], got locked=%v retry=%v", locked, retryAfter)
	}

	s.FastForward(time.Minute + time.Second)
	locked, _, err = store.IsLocked(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if locked {
		t.Fatal("expected lock to expire after cooldown")
	}
}

func TestRedisStoreSuccessClearsFailures(t *testing.T) {
	store, s := setupTestRedis(t, 2)
	ctx := context.Background()

	if err := store.RecordFailure(ctx, "bob@example.com"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := store.RecordSuccess(ctx, "bob@example.com"); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
	if s.Exists("lockout:fail:bob@example.com") {
		t.Fatal("expected failure counter to be cleared")
	}
	if err := store.RecordFailure(ctx, "bob@example.com"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	locked, _, _ := store.IsLocked(ctx, "bob@example.com")
	if locked {
		t.Fatal("expected a fresh window after success")
	}
}

func TestRedisStoreFailureWindowExpires(t *testing.T) {
	store, s := setupTestRedis(t, 2)
	ctx := context.Background()

	if err := store.RecordFailure(ctx, "carol@example.com"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	s.FastForward(2 * time.Minute)
	if err := store.RecordFailure(ctx, "carol@example.com"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	locked, _, _ := store.IsLocked(ctx, "carol@example.com")
	if locked {
		t.Fatal("failures outside the window must not accumulate")
	}
}

func TestRedisStoreDisabled(t *testing.T) {
	store, s := setupTestRedis(t, 0)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = store.RecordFailure(ctx, "dave@example.com")
	}
	locked, _, _ := store.IsLocked(ctx, "dave@example.com")
	if locked {
		t.Fatal("expected disabled store to never lock")
	}
	if len(s.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", s.Keys())
	}
}
