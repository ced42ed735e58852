package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/breakwatch/internal/config"
	"github.com/goodtune/breakwatch/internal/storage"
	"github.com/rs/zerolog"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestStore_SetGet(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.Set(ctx, storage.KeyTotalUsage, "720"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := store.Get(ctx, storage.KeyTotalUsage)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "720" {
		t.Errorf("Expected 720, got %q", value)
	}

	raw, err := mr.Get("breakwatch:counter:totalUsage")
	if err != nil {
		t.Fatalf("miniredis get failed: %v", err)
	}
	if raw != "720" {
		t.Errorf("Expected raw key to hold 720, got %q", raw)
	}
	if ttl := mr.TTL("breakwatch:counter:totalUsage"); ttl != 0 {
		t.Errorf("Expected no TTL on counters, got %v", ttl)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Get(context.Background(), storage.KeySessionUsage)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_ServerDown(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	mr.Close()

	if err := store.Set(context.Background(), storage.KeyTotalUsage, "1"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable on Set, got %v", err)
	}
	if _, err := store.Get(context.Background(), storage.KeyTotalUsage); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable on Get, got %v", err)
	}
}

func TestStore_CountersListRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	counters := storage.NewCounters(store, zerolog.Nop())
	counters.SetList(ctx, storage.KeyMilestonesAlerted, []string{"milestone_1", "milestone_2"})

	got := counters.GetList(ctx, storage.KeyMilestonesAlerted)
	if len(got) != 2 || got[0] != "milestone_1" || got[1] != "milestone_2" {
		t.Fatalf("Unexpected milestone list: %v", got)
	}

	raw, err := store.Get(ctx, storage.KeyMilestonesAlerted)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if raw != `["milestone_1","milestone_2"]` {
		t.Errorf("Expected JSON array encoding, got %q", raw)
	}
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{
		Host:         "127.0.0.1",
		DialTimeout:  "soon",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	})
	if err == nil {
		t.Fatal("Expected error for invalid dial_timeout")
	}
}
