package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/medmatrix/console/types"
)

const (
	historyPrefix = "console:task:history:"
	snapshotKey   = "console:review:snapshot"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// Close closes the underlying Redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// setJSON marshals a value and stores it under the given key.
func (s *RedisStorage) setJSON(ctx context.Context, key string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %v", key, err)
		}
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// getJSON retrieves and unmarshals a value stored under the given key.
func getJSON[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// SaveHistory saves a task's step-event history to Redis.
func (s *RedisStorage) SaveHistory(ctx context.Context, taskID string, events []types.StepEvent) error {
	return s.setJSON(ctx, historyPrefix+taskID, events)
}

// GetHistory retrieves a task's step-event history from Redis.
func (s *RedisStorage) GetHistory(ctx context.Context, taskID string) ([]types.StepEvent, error) {
	return getJSON[[]types.StepEvent](ctx, s.client, historyPrefix+taskID, ErrHistoryNotFound)
}

// DeleteHistory removes a task's step-event history from Redis.
func (s *RedisStorage) DeleteHistory(ctx context.Context, taskID string) error {
	return withContextError(ctx, func() error {
		if err := s.client.Del(ctx, historyPrefix+taskID).Err(); err != nil {
			return fmt.Errorf("failed to delete %s from Redis: %v", historyPrefix+taskID, err)
		}
		return nil
	})
}

// SaveReviewSnapshot caches the review-queue snapshot in Redis.
func (s *RedisStorage) SaveReviewSnapshot(ctx context.Context, items []types.ReviewItem) error {
	return s.setJSON(ctx, snapshotKey, items)
}

// GetReviewSnapshot retrieves the cached review-queue snapshot from Redis.
func (s *RedisStorage) GetReviewSnapshot(ctx context.Context) ([]types.ReviewItem, error) {
	return getJSON[[]types.ReviewItem](ctx, s.client, snapshotKey, ErrSnapshotNotFound)
}
