package cron

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memoryRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: map[string]string{}}
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := newMemoryRedis()
	first, err := NewRedisLock(store, "kky:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "kky:lock:cron", time.Minute)
	ctx := context.Background()

	if ok, _ := first.Acquire(ctx); !ok {
		t.Fatal("first acquire should succeed")
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second acquire should fail while held")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if _, held := store.values["kky:lock:cron"]; !held {
		t.Fatal("non-owner release must not free the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestRedisLockDoesNotFreeSuccessor(t *testing.T) {
	store := newMemoryRedis()
	stale, _ := NewRedisLock(store, "k", time.Minute)
	ctx := context.Background()
	if ok, _ := stale.Acquire(ctx); !ok {
		t.Fatal("acquire should succeed")
	}
	// TTL lapses and another worker takes over
	store.values["k"] = "successor"

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if store.values["k"] != "successor" {
		t.Fatal("stale owner freed the successor's lock")
	}
}
