// Package events is the in-process notification bus between the task
// session and whatever renders it. Handlers run off the session's event
// loop so a slow renderer never delays log appends.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrBusClosed indicates the notification bus has been closed.
	ErrBusClosed = errors.New("notification bus is closed")
	// ErrChannelFull indicates the notification channel is full and cannot accept more.
	ErrChannelFull = errors.New("notification channel is full")
	// ErrNoHandler indicates no handlers are registered for the notification type.
	ErrNoHandler = errors.New("no handlers registered for notification type")
)

// Notification is one derived-state change published by the session,
// e.g. "projection_updated" or "gate_changed".
type Notification struct {
	Type   string         // notification type constant, defined by the publisher
	TaskID string         // task the notification pertains to
	Data   map[string]any // additional payload
}

// Handler defines the interface for handling notifications.
type Handler interface {
	Handle(ctx context.Context, n Notification) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, n Notification) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Bus manages subscriptions and asynchronous delivery.
type Bus struct {
	handlers   map[string][]Handler
	mu         sync.RWMutex
	ch         chan Notification
	errHandler func(n Notification, err error)
	errMu      sync.RWMutex
	wg         sync.WaitGroup
	closed     bool
	closeMu    sync.RWMutex
}

// BusOption defines functional options for configuring a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the notification channel buffer size.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		b.ch = make(chan Notification, size)
	}
}

// WithErrorHandler sets a custom handler for errors returned by
// subscribers.
func WithErrorHandler(handler func(n Notification, err error)) BusOption {
	return func(b *Bus) {
		b.errMu.Lock()
		defer b.errMu.Unlock()
		b.errHandler = handler
	}
}

// NewBus creates a Bus with async delivery. The default buffer size is
// 100 and subscriber errors are logged through slog.
func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		handlers:   make(map[string][]Handler),
		ch:         make(chan Notification, 100),
		errHandler: defaultErrorHandler,
	}

	for _, option := range options {
		option(b)
	}

	b.wg.Add(1)
	go b.process()

	return b
}

// Subscribe subscribes a handler to a notification type.
func (b *Bus) Subscribe(notificationType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[notificationType] = append(b.handlers[notificationType], handler)
}

// SubscribeFunc subscribes a function as a handler.
func (b *Bus) SubscribeFunc(notificationType string, fn func(ctx context.Context, n Notification) error) {
	b.Subscribe(notificationType, HandlerFunc(fn))
}

// HasSubscribers reports whether any handler is registered for the type.
func (b *Bus) HasSubscribers(notificationType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers, exists := b.handlers[notificationType]
	return exists && len(handlers) > 0
}

// Publish delivers a notification asynchronously to all subscribed
// handlers. Returns an error if the context is cancelled, the bus is
// closed, no handler is subscribed, or the channel is full.
func (b *Bus) Publish(ctx context.Context, n Notification) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return ErrBusClosed
	}
	b.closeMu.RUnlock()

	if !b.HasSubscribers(n.Type) {
		return ErrNoHandler
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- n:
		return nil
	default:
		return ErrChannelFull
	}
}

// Stop stops delivery and waits for the processing goroutine. Unprocessed
// notifications are discarded.
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		for len(b.ch) > 0 {
			<-b.ch
		}
		close(b.ch)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

// process drains the channel, invoking handlers concurrently per
// notification and in delivery order across notifications.
func (b *Bus) process() {
	defer b.wg.Done()

	for n := range b.ch {
		b.mu.RLock()
		handlers := append([]Handler(nil), b.handlers[n.Type]...)
		b.mu.RUnlock()

		if len(handlers) == 0 {
			continue
		}

		var wg sync.WaitGroup
		errCh := make(chan error, len(handlers))
		for _, handler := range handlers {
			wg.Add(1)
			go func(h Handler) {
				defer wg.Done()
				if err := h.Handle(context.Background(), n); err != nil {
					errCh <- err
				}
			}(handler)
		}
		wg.Wait()
		close(errCh)

		b.errMu.RLock()
		errHandler := b.errHandler
		b.errMu.RUnlock()

		for err := range errCh {
			errHandler(n, err)
		}
	}
}

// defaultErrorHandler logs subscriber errors.
func defaultErrorHandler(n Notification, err error) {
	slog.Error("notification handler failed",
		slog.String("type", n.Type),
		slog.String("task_id", n.TaskID),
		slog.String("error", err.Error()))
}
