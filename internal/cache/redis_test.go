// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := &RedisCache{
		client: client,
		logger: zerolog.Nop(),
	}

	return mr, cache
}

func TestRedisCacheSetGet(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("test-key", "test-value", 5*time.Minute)

	val, found := cache.Get("test-key")
	if !found {
		t.Fatal("expected value to be found")
	}
	if val != "test-value" {
		t.Errorf("expected 'test-value', got %v", val)
	}

	stats := cache.Stats()
	if stats.Sets != 1 {
		t.Errorf("expected 1 set, got %d", stats.Sets)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
}

func TestRedisCacheGetMissing(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	val, found := cache.Get("nonexistent")
	if found {
		t.Error("expected value to not be found")
	}
	if val != nil {
		t.Errorf("expected nil value, got %v", val)
	}

	stats := cache.Stats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("short-lived", "value", 1*time.Second)

	if _, found := cache.Get("short-lived"); !found {
		t.Fatal("expected value before expiry")
	}

	// miniredis only expires keys when its clock moves.
	mr.FastForward(2 * time.Second)

	if _, found := cache.Get("short-lived"); found {
		t.Error("expected value to be expired")
	}
}

func TestRedisCacheDelete(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("to-delete", "value", 5*time.Minute)
	cache.Delete("to-delete")

	if _, found := cache.Get("to-delete"); found {
		t.Error("expected value to be deleted")
	}
}

func TestRedisCacheClear(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("a", 1, 5*time.Minute)
	cache.Set("b", 2, 5*time.Minute)
	cache.Clear()

	stats := cache.Stats()
	if stats.CurrentSize != 0 {
		t.Errorf("expected empty cache, got %d entries", stats.CurrentSize)
	}
}

func TestRedisCacheJSONRoundTrip(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("doc", map[string]any{"enabled": true, "count": float64(3)}, 5*time.Minute)

	val, found := cache.Get("doc")
	if !found {
		t.Fatal("expected value to be found")
	}
	doc, ok := val.(map[string]any)
	if !ok {
		t.Fatalf("expected map round-trip, got %T", val)
	}
	if doc["enabled"] != true || doc["count"] != float64(3) {
		t.Errorf("unexpected round-trip value: %v", doc)
	}
}
