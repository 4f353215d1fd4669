package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crmsync/hubspot-extractor/pkg/extract"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis for unit tests. Integration
// tests use testcontainers-go with a real container instead.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func sampleCheckpoint() extract.Checkpoint {
	return extract.Checkpoint{
		Phase:            extract.PhaseInProgress,
		RecordsProcessed: 500,
		Cursor:           "cursor-500",
		PageNumber:       5,
		BatchSize:        100,
		Extra:            map[string]any{"service": "hubspot_deals"},
	}
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil, 0)
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	cp := sampleCheckpoint()
	if err := store.Save(ctx, "run-1", cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Phase != cp.Phase {
		t.Errorf("Phase = %q, want %q", loaded.Phase, cp.Phase)
	}
	if loaded.Cursor != cp.Cursor {
		t.Errorf("Cursor = %q, want %q", loaded.Cursor, cp.Cursor)
	}
	if loaded.RecordsProcessed != cp.RecordsProcessed {
		t.Errorf("RecordsProcessed = %d, want %d", loaded.RecordsProcessed, cp.RecordsProcessed)
	}
	if loaded.PageNumber != cp.PageNumber {
		t.Errorf("PageNumber = %d, want %d", loaded.PageNumber, cp.PageNumber)
	}
}

func TestRedisStore_SaveOverwrites(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	first := sampleCheckpoint()
	if err := store.Save(ctx, "run-1", first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := sampleCheckpoint()
	second.Cursor = "cursor-600"
	second.RecordsProcessed = 600
	second.PageNumber = 6
	if err := store.Save(ctx, "run-1", second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Cursor != "cursor-600" || loaded.RecordsProcessed != 600 {
		t.Errorf("Loaded %q/%d, want latest checkpoint cursor-600/600", loaded.Cursor, loaded.RecordsProcessed)
	}
}

func TestRedisStore_Load_NotFound(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)

	_, err := store.Load(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRedisStore_Load_Corrupted(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	if err := client.Set(ctx, key("run-1"), "not-json{", time.Minute).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_, err := store.Load(ctx, "run-1")
	if !errors.Is(err, ErrInvalidCheckpoint) {
		t.Errorf("Expected ErrInvalidCheckpoint, got %v", err)
	}
}

func TestRedisStore_Delete(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	if err := store.Save(ctx, "run-1", sampleCheckpoint()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := store.Load(ctx, "run-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after Delete, got %v", err)
	}
}

func TestResume_FromInProgress(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	if err := store.Save(ctx, "run-1", sampleCheckpoint()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	resume, err := Resume(ctx, store, "run-1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resume == nil {
		t.Fatal("Resume returned nil for an in_progress checkpoint")
	}
	if resume.Cursor != "cursor-500" || resume.PageNumber != 5 || resume.RecordsProcessed != 500 {
		t.Errorf("ResumePoint = %+v, want cursor-500/5/500", resume)
	}
}

func TestResume_CompletedRunHasNothingToResume(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	cp := sampleCheckpoint()
	cp.Phase = extract.PhaseCompleted
	cp.Cursor = ""
	if err := store.Save(ctx, "run-1", cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	resume, err := Resume(ctx, store, "run-1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resume != nil {
		t.Errorf("Resume = %+v, want nil for a completed run", resume)
	}
}

func TestResume_MissingCheckpoint(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)

	resume, err := Resume(context.Background(), store, "nonexistent")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resume != nil {
		t.Errorf("Resume = %+v, want nil when no checkpoint exists", resume)
	}
}

func TestCallback_SavesThroughStore(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	cb := Callback(ctx, store)
	if err := cb("run-1", sampleCheckpoint()); err != nil {
		t.Fatalf("Callback failed: %v", err)
	}

	loaded, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Cursor != "cursor-500" {
		t.Errorf("Cursor = %q, want cursor-500", loaded.Cursor)
	}
}
