package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/medmatrix/console/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	histories map[string][]types.StepEvent
	snapshot  []types.ReviewItem
	hasSnap   bool
	mu        sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		histories: make(map[string][]types.StepEvent),
	}
}

// SaveHistory saves a task's step-event history to memory.
func (s *MemoryStorage) SaveHistory(ctx context.Context, taskID string, events []types.StepEvent) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.histories[taskID] = append([]types.StepEvent(nil), events...)
		return nil
	})
}

// GetHistory retrieves a task's step-event history from memory.
func (s *MemoryStorage) GetHistory(ctx context.Context, taskID string) ([]types.StepEvent, error) {
	return withContext(ctx, func() ([]types.StepEvent, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		events, ok := s.histories[taskID]
		if !ok {
			return nil, fmt.Errorf("%w: task=%s", ErrHistoryNotFound, taskID)
		}
		return append([]types.StepEvent(nil), events...), nil
	})
}

// DeleteHistory removes a task's step-event history from memory.
func (s *MemoryStorage) DeleteHistory(ctx context.Context, taskID string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.histories, taskID)
		return nil
	})
}

// SaveReviewSnapshot caches the review-queue snapshot in memory.
func (s *MemoryStorage) SaveReviewSnapshot(ctx context.Context, items []types.ReviewItem) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.snapshot = append([]types.ReviewItem(nil), items...)
		s.hasSnap = true
		return nil
	})
}

// GetReviewSnapshot retrieves the cached review-queue snapshot.
func (s *MemoryStorage) GetReviewSnapshot(ctx context.Context) ([]types.ReviewItem, error) {
	return withContext(ctx, func() ([]types.ReviewItem, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if !s.hasSnap {
			return nil, ErrSnapshotNotFound
		}
		return append([]types.ReviewItem(nil), s.snapshot...), nil
	})
}
