// Package store persists order book snapshots so a restarted engine resumes
// with the exact observable state it went down with.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"sleipnir/internal/matching"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore holds at most one snapshot per product; Store overwrites.
type SnapshotStore interface {
	Store(ctx context.Context, snapshot *matching.Snapshot) error
	Restore(ctx context.Context, productID string) (*matching.Snapshot, error)
}

const redisKeyPrefix = "matching:snapshot:"

// RedisStore keeps each product's snapshot as a single JSON value.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *RedisStore) Store(ctx context.Context, snapshot *matching.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+snapshot.ProductID, raw, 0).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Restore(ctx context.Context, productID string) (*matching.Snapshot, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+productID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	var snapshot matching.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is the in-process store used by tests and redis-less runs.
// Snapshots pass through JSON either way, so both implementations exercise
// the same wire schema.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

func (s *MemoryStore) Store(_ context.Context, snapshot *matching.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.ProductID] = raw
	return nil
}

func (s *MemoryStore) Restore(_ context.Context, productID string) (*matching.Snapshot, error) {
	s.mu.Lock()
	raw, ok := s.snapshots[productID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSnapshotNotFound
	}

	var snapshot matching.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}
