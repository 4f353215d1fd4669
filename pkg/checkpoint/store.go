// Package checkpoint persists extraction progress in Redis so paused,
// cancelled, or failed runs can be resumed by a later process. The
// extraction engine only writes through a callback; reading a stored
// checkpoint back into a ResumePoint is the caller's job.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crmsync/hubspot-extractor/pkg/extract"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound indicates no checkpoint exists for the run.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidCheckpoint indicates the stored checkpoint is corrupted.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint entry")
)

const keyPrefix = "hubspot:extract:checkpoint:"

// DefaultTTL bounds how long a checkpoint stays resumable. Cursors for
// abandoned runs go stale server-side anyway.
const DefaultTTL = 7 * 24 * time.Hour

// Store is the checkpoint persistence contract.
type Store interface {
	Save(ctx context.Context, runID string, cp extract.Checkpoint) error
	Load(ctx context.Context, runID string) (*extract.Checkpoint, error)
	Delete(ctx context.Context, runID string) error
}

// RedisStore keeps one JSON checkpoint per run ID.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a checkpoint store. A ttl of 0 uses DefaultTTL.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Save overwrites the checkpoint for a run. Each write replaces the
// previous checkpoint whole.
func (s *RedisStore) Save(ctx context.Context, runID string, cp extract.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		storeErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.redis.Set(ctx, key(runID), data, s.ttl).Err(); err != nil {
		storeErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	savesTotal.WithLabelValues(string(cp.Phase)).Inc()
	return nil
}

// Load retrieves the checkpoint for a run.
// Returns ErrNotFound if none exists.
func (s *RedisStore) Load(ctx context.Context, runID string) (*extract.Checkpoint, error) {
	data, err := s.redis.Get(ctx, key(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		storeErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cp extract.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		storeErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}

	return &cp, nil
}

// Delete removes the checkpoint for a run.
func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	if err := s.redis.Del(ctx, key(runID)).Err(); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Resume loads the checkpoint for a run and converts it to the resume
// point the engine accepts. Completed runs and missing checkpoints
// return nil: there is nothing to resume.
func Resume(ctx context.Context, s Store, runID string) (*extract.ResumePoint, error) {
	cp, err := s.Load(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if cp.Phase == extract.PhaseCompleted {
		return nil, nil
	}

	return &extract.ResumePoint{
		Cursor:           cp.Cursor,
		PageNumber:       cp.PageNumber,
		RecordsProcessed: cp.RecordsProcessed,
	}, nil
}

// Callback adapts a store to the engine's checkpoint hook.
func Callback(ctx context.Context, s Store) func(string, extract.Checkpoint) error {
	return func(runID string, cp extract.Checkpoint) error {
		return s.Save(ctx, runID, cp)
	}
}

func key(runID string) string {
	return keyPrefix + runID
}
