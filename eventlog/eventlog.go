// Package eventlog keeps the ordered, append-only record of step events
// for the active task. The log is the source of truth for all derived
// render state; it is reset when a new task replaces the current one.
package eventlog

import (
	"fmt"
	"sync"

	"github.com/medmatrix/console/graph"
	"github.com/medmatrix/console/types"
)

// ValidationError reports an event referencing a node the workflow graph
// does not contain. The event is rejected and the task continues.
type ValidationError struct {
	Node string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step event references unknown node %q", e.Node)
}

// Log is an append-only sequence of step events for one task. Events are
// never mutated in place; Reset swaps in a fresh sequence.
type Log struct {
	mu     sync.RWMutex
	graph  *graph.Graph
	events []types.StepEvent
}

// New creates an empty log validated against the given graph.
func New(g *graph.Graph) *Log {
	return &Log{graph: g}
}

// Append validates and appends an event, assigning its sequence position.
// Events naming a node outside the graph fail with *ValidationError.
func (l *Log) Append(ev types.StepEvent) error {
	if !l.graph.Has(ev.Node) {
		return &ValidationError{Node: ev.Node}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.Seq = len(l.events)
	l.events = append(l.events, ev)
	return nil
}

// Snapshot returns an immutable copy of the log for projection. Callers
// must not assume the log stays static between reads.
func (l *Log) Snapshot() []types.StepEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.StepEvent(nil), l.events...)
}

// Len returns the number of appended events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Reset clears the log. All previously derived render state is invalid
// afterwards; callers must recompute before use.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
