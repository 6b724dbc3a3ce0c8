// Package transport delivers step events pushed by the pipeline backend.
// Implementations surface disconnects as errors on a side channel; they do
// not guarantee reconnection; that policy belongs to the backing client.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/medmatrix/console/types"
)

// Error reports a push-channel failure (disconnect, decode failure).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transport is a push channel of step events for one operator session.
// Events ends when the transport is closed; Errs carries non-fatal
// failures such as disconnects.
type Transport interface {
	Events() <-chan types.StepEvent
	Errs() <-chan error
	Close() error
}

// ParseStepEvent decodes one inbound {node, state} message.
func ParseStepEvent(data []byte) (types.StepEvent, error) {
	var ev types.StepEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return types.StepEvent{}, &Error{Op: "decode", Err: err}
	}
	if ev.Node == "" {
		return types.StepEvent{}, &Error{Op: "decode", Err: fmt.Errorf("step event missing node")}
	}
	return ev, nil
}

// ChanTransport is an in-memory Transport, used in tests and for wiring a
// local pipeline directly to a session.
type ChanTransport struct {
	ch     chan types.StepEvent
	errs   chan error
	once   sync.Once
	closed chan struct{}
}

// NewChanTransport creates a ChanTransport with the given buffer size.
func NewChanTransport(buffer int) *ChanTransport {
	return &ChanTransport{
		ch:     make(chan types.StepEvent, buffer),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

// Push delivers an event to the consumer. Returns false after Close.
func (t *ChanTransport) Push(ev types.StepEvent) bool {
	select {
	case <-t.closed:
		return false
	case t.ch <- ev:
		return true
	}
}

// Fail surfaces a transport failure to the consumer.
func (t *ChanTransport) Fail(err error) {
	select {
	case t.errs <- &Error{Op: "push", Err: err}:
	default:
	}
}

// Events implements Transport.
func (t *ChanTransport) Events() <-chan types.StepEvent { return t.ch }

// Errs implements Transport.
func (t *ChanTransport) Errs() <-chan error { return t.errs }

// Close implements Transport. It is safe to call more than once.
func (t *ChanTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		close(t.ch)
	})
	return nil
}
