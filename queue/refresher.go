package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medmatrix/console/storage"
	"github.com/medmatrix/console/types"
)

// Fetcher retrieves the pending review queue from the backend. The
// priority order hint is passed through to the server, but the view still
// applies its own sort: the server ordering is not authoritative.
type Fetcher interface {
	ReviewQueue(ctx context.Context, priorityOrder string) ([]types.ReviewItem, error)
}

// Refresher polls the review-queue snapshot on an interval and serves
// filtered views over the last good snapshot. A failed fetch keeps the
// previous snapshot visible instead of blanking the queue.
type Refresher struct {
	fetcher  Fetcher
	viewer   *Viewer
	store    storage.Storage
	logger   *slog.Logger
	interval time.Duration
	order    SortOrder

	mu      sync.RWMutex
	items   []types.ReviewItem
	loaded  bool
	lastErr error
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithStore caches snapshots in the given storage and falls back to it
// when the first fetch fails.
func WithStore(store storage.Storage) RefresherOption {
	return func(r *Refresher) { r.store = store }
}

// WithInterval sets the polling interval. Default is 30 seconds.
func WithInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.interval = d }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = logger }
}

// WithServerOrder sets the priority_order hint sent to the backend.
func WithServerOrder(order SortOrder) RefresherOption {
	return func(r *Refresher) { r.order = order }
}

// NewRefresher creates a Refresher around the given fetcher and viewer.
func NewRefresher(fetcher Fetcher, viewer *Viewer, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		fetcher:  fetcher,
		viewer:   viewer,
		interval: 30 * time.Second,
		order:    Desc,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until the context is cancelled. One refresh happens
// immediately on entry.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("review queue refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("review queue refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh fetches a fresh snapshot. On success the snapshot replaces the
// cached one and is persisted; on failure the previous snapshot stays and
// the error is retained for Err. When no snapshot has been loaded yet,
// a failed fetch falls back to the persisted copy.
func (r *Refresher) Refresh(ctx context.Context) error {
	items, err := r.fetcher.ReviewQueue(ctx, string(r.order))
	if err != nil {
		r.mu.Lock()
		r.lastErr = err
		loaded := r.loaded
		r.mu.Unlock()

		if !loaded && r.store != nil {
			if cached, cacheErr := r.store.GetReviewSnapshot(ctx); cacheErr == nil {
				r.mu.Lock()
				r.items = cached
				r.loaded = true
				r.mu.Unlock()
				r.logger.Info("serving cached review snapshot", slog.Int("items", len(cached)))
			}
		}
		return err
	}

	r.mu.Lock()
	r.items = items
	r.loaded = true
	r.lastErr = nil
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveReviewSnapshot(ctx, items); err != nil {
			r.logger.Warn("failed to cache review snapshot", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Snapshot returns a copy of the last good snapshot.
func (r *Refresher) Snapshot() []types.ReviewItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.ReviewItem(nil), r.items...)
}

// Err returns the error of the most recent refresh, nil after a success.
func (r *Refresher) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// View applies filter, sort, and pagination over the current snapshot.
func (r *Refresher) View(f Filter, order SortOrder, page, pageSize int) ([]types.ReviewItem, int, error) {
	return r.viewer.View(r.Snapshot(), f, order, page, pageSize)
}
