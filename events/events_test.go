package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockHandler struct {
	mu    sync.Mutex
	seen  []Notification
	fail  bool
	errCh chan error
}

func (h *mockHandler) Handle(ctx context.Context, n Notification) error {
	h.mu.Lock()
	h.seen = append(h.seen, n)
	h.mu.Unlock()
	if h.fail {
		return errors.New("mock handler error")
	}
	return nil
}

func (h *mockHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBus_Subscribe(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	handler := &mockHandler{}
	b.Subscribe("projection_updated", handler)

	if !b.HasSubscribers("projection_updated") {
		t.Fatal("expected subscriber for projection_updated")
	}
	if b.HasSubscribers("gate_changed") {
		t.Fatal("did not expect subscriber for gate_changed")
	}
}

func TestBus_PublishDelivery(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	handler := &mockHandler{}
	b.Subscribe("projection_updated", handler)

	n := Notification{Type: "projection_updated", TaskID: "task-1", Data: map[string]any{"active": "classifier"}}
	if err := b.Publish(context.Background(), n); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, func() bool { return handler.count() == 1 })

	handler.mu.Lock()
	got := handler.seen[0]
	handler.mu.Unlock()
	if got.TaskID != "task-1" {
		t.Fatalf("expected task-1, got %s", got.TaskID)
	}
}

func TestBus_PublishNoHandler(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	err := b.Publish(context.Background(), Notification{Type: "gate_changed"})
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestBus_PublishAfterStop(t *testing.T) {
	b := NewBus()
	b.Subscribe("projection_updated", &mockHandler{})
	b.Stop()

	err := b.Publish(context.Background(), Notification{Type: "projection_updated"})
	if !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestBus_PublishChannelFull(t *testing.T) {
	b := NewBus(WithBufferSize(0))
	defer b.Stop()

	// A handler that blocks until released keeps the processor busy.
	release := make(chan struct{})
	b.SubscribeFunc("projection_updated", func(ctx context.Context, n Notification) error {
		<-release
		return nil
	})
	defer close(release)

	sent := 0
	for i := 0; i < 50; i++ {
		err := b.Publish(context.Background(), Notification{Type: "projection_updated"})
		if err == nil {
			sent++
			continue
		}
		if errors.Is(err, ErrChannelFull) {
			return // expected once the unbuffered channel has no taker
		}
		t.Fatalf("unexpected error: %v", err)
	}
	t.Fatalf("never saw ErrChannelFull after %d sends", sent)
}

func TestBus_ErrorHandler(t *testing.T) {
	var mu sync.Mutex
	var captured []error

	b := NewBus(WithErrorHandler(func(n Notification, err error) {
		mu.Lock()
		captured = append(captured, err)
		mu.Unlock()
	}))
	defer b.Stop()

	b.Subscribe("projection_updated", &mockHandler{fail: true})
	if err := b.Publish(context.Background(), Notification{Type: "projection_updated"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(captured) == 1
	})
}

func TestBus_MultipleHandlers(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	h1 := &mockHandler{}
	h2 := &mockHandler{}
	b.Subscribe("gate_changed", h1)
	b.Subscribe("gate_changed", h2)

	if err := b.Publish(context.Background(), Notification{Type: "gate_changed", TaskID: "task-2"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, func() bool { return h1.count() == 1 && h2.count() == 1 })
}

func TestBus_OrderPreserved(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	handler := &mockHandler{}
	b.Subscribe("projection_updated", handler)

	for i := 0; i < 5; i++ {
		n := Notification{Type: "projection_updated", Data: map[string]any{"seq": i}}
		if err := b.Publish(context.Background(), n); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	waitFor(t, func() bool { return handler.count() == 5 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	for i, n := range handler.seen {
		if n.Data["seq"] != i {
			t.Fatalf("notification %d out of order: %v", i, n.Data["seq"])
		}
	}
}
