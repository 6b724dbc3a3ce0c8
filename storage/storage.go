// Package storage persists console state across reloads: per-task step
// histories and the last good review-queue snapshot.
package storage

import (
	"context"
	"errors"

	"github.com/medmatrix/console/types"
)

// Errors
var (
	ErrHistoryNotFound  = errors.New("task history not found")
	ErrSnapshotNotFound = errors.New("review snapshot not found")
)

// Storage defines the interface for persisting and retrieving console
// state.
type Storage interface {
	// SaveHistory saves the step-event history of a task.
	SaveHistory(ctx context.Context, taskID string, events []types.StepEvent) error

	// GetHistory retrieves the step-event history of a task.
	GetHistory(ctx context.Context, taskID string) ([]types.StepEvent, error)

	// DeleteHistory removes the step-event history of a task.
	DeleteHistory(ctx context.Context, taskID string) error

	// SaveReviewSnapshot caches the latest review-queue snapshot.
	SaveReviewSnapshot(ctx context.Context, items []types.ReviewItem) error

	// GetReviewSnapshot retrieves the cached review-queue snapshot.
	GetReviewSnapshot(ctx context.Context) ([]types.ReviewItem, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only
// return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
