// Package session owns the state of one operator console: the active
// task, its event log, and the derived render state. Events are consumed
// on a single goroutine so append order always matches delivery order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/songzhibin97/gkit/generator"

	"github.com/medmatrix/console/client"
	"github.com/medmatrix/console/eventlog"
	"github.com/medmatrix/console/events"
	"github.com/medmatrix/console/gate"
	"github.com/medmatrix/console/graph"
	"github.com/medmatrix/console/projector"
	"github.com/medmatrix/console/storage"
	"github.com/medmatrix/console/transport"
	"github.com/medmatrix/console/types"
)

// Standard error definitions
var (
	ErrNoBackend         = errors.New("no backend client configured")
	ErrNoStorage         = errors.New("no storage configured")
	ErrNotAwaitingReview = errors.New("task is not awaiting review")
)

// Notification types published on the bus.
const (
	NotifyProjectionUpdated = "projection_updated"
	NotifyGateChanged       = "gate_changed"
	NotifyTransportError    = "transport_error"
	NotifyTaskReplaced      = "task_replaced"
	NotifyTaskResumed       = "task_resumed"
	NotifyTaskFailed        = "task_failed"
)

// errorNode is the reserved node id the backend uses for pipeline
// failures. It is not part of the workflow graph; the session turns it
// into a failed status instead of rejecting it.
const errorNode = "error"

// API is the slice of the backend client the session needs. *client.Client
// satisfies it.
type API interface {
	SubmitTask(ctx context.Context, rawText, sessionID string) (types.TaskRef, error)
	SubmitDecision(ctx context.Context, reviewID int64, approved bool) (client.Decision, error)
	SubmitFeedback(ctx context.Context, reviewID int64, feedback string) error
}

// Session tracks one active task at a time.
type Session struct {
	graph  *graph.Graph
	log    *eventlog.Log
	bus    *events.Bus
	store  storage.Storage
	api    API
	gen    generator.Generator
	logger *slog.Logger
	sid    string

	mu         sync.RWMutex
	taskID     string
	generation uint64
	projection projector.Projection
	gateState  types.GateState
	failure    string
}

// Option configures a Session.
type Option func(*Session)

// WithBus publishes derived-state notifications on the given bus.
func WithBus(bus *events.Bus) Option {
	return func(s *Session) { s.bus = bus }
}

// WithStorage persists task histories, enabling Restore.
func WithStorage(store storage.Storage) Option {
	return func(s *Session) { s.store = store }
}

// WithAPI wires the backend client used by Submit and SubmitDecision.
func WithAPI(api API) Option {
	return func(s *Session) { s.api = api }
}

// WithGenerator replaces the submission-id generator.
func WithGenerator(gen generator.Generator) Option {
	return func(s *Session) { s.gen = gen }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithSessionID overrides the generated operator session id.
func WithSessionID(sid string) Option {
	return func(s *Session) { s.sid = sid }
}

// New creates a Session over the given workflow graph.
func New(g *graph.Graph, opts ...Option) *Session {
	s := &Session{
		graph:  g,
		log:    eventlog.New(g),
		gen:    generator.NewSnowflake(time.Now().Add(-time.Second), 1),
		logger: slog.Default(),
		sid:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.projection = projector.Project(g, nil)
	return s
}

// SID returns the operator session id sent with task submissions; the
// backend routes push events back using it.
func (s *Session) SID() string { return s.sid }

// TaskID returns the id of the active task, or "" before the first
// submission.
func (s *Session) TaskID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskID
}

// Submit clears the current task and submits raw product text for
// processing. The log reset and task swap happen before the request so a
// failed submission never shows stale progress as current.
func (s *Session) Submit(ctx context.Context, rawText string) (types.TaskRef, error) {
	if s.api == nil {
		return types.TaskRef{}, ErrNoBackend
	}

	var submissionID uint64
	if s.gen != nil {
		if id, err := s.gen.NextID(); err == nil {
			submissionID = id
		}
	}

	s.mu.Lock()
	s.generation++
	previous := s.taskID
	s.taskID = ""
	s.failure = ""
	s.log.Reset()
	s.recomputeLocked()
	s.mu.Unlock()

	ref, err := s.api.SubmitTask(ctx, rawText, s.sid)
	if err != nil {
		return types.TaskRef{}, fmt.Errorf("submit task: %w", err)
	}

	s.mu.Lock()
	s.taskID = ref.TaskID
	s.mu.Unlock()

	s.logger.Info("task submitted",
		slog.String("task_id", ref.TaskID),
		slog.Uint64("submission_id", submissionID))
	s.notify(ctx, NotifyTaskReplaced, ref.TaskID, map[string]any{
		"previous_task_id": previous,
		"submission_id":    submissionID,
	})
	return ref, nil
}

// Run consumes the transport until the context is cancelled or the event
// channel closes. Transport failures are surfaced as notifications and
// logged; they do not stop the loop.
func (s *Session) Run(ctx context.Context, t transport.Transport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-t.Errs():
			if err == nil {
				continue
			}
			s.logger.Warn("push channel error", slog.String("error", err.Error()))
			s.notify(ctx, NotifyTransportError, s.TaskID(), map[string]any{"error": err.Error()})
		case ev, ok := <-t.Events():
			if !ok {
				return nil
			}
			if err := s.HandleEvent(ctx, ev); err != nil {
				s.logger.Warn("step event rejected",
					slog.String("node", ev.Node),
					slog.String("error", err.Error()))
			}
		}
	}
}

// HandleEvent appends one step event and recomputes all derived state.
// Events referencing unknown nodes fail with *eventlog.ValidationError
// and leave the active node unchanged. The reserved "error" node marks
// the task failed instead of being appended.
func (s *Session) HandleEvent(ctx context.Context, ev types.StepEvent) error {
	if ev.Node == errorNode {
		msg, _ := ev.State["error"].(string)
		if msg == "" {
			msg = "pipeline error"
		}
		s.mu.Lock()
		s.failure = msg
		taskID := s.taskID
		s.mu.Unlock()

		s.logger.Error("pipeline failed", slog.String("task_id", taskID), slog.String("error", msg))
		s.notify(ctx, NotifyTaskFailed, taskID, map[string]any{"error": msg})
		return nil
	}

	s.mu.Lock()
	if err := s.log.Append(ev); err != nil {
		s.mu.Unlock()
		return err
	}
	prevGate := s.gateState
	snapshot := s.recomputeLocked()
	gateState := s.gateState
	taskID := s.taskID
	gen := s.generation
	s.mu.Unlock()

	s.persist(ctx, gen, taskID, snapshot)

	s.notify(ctx, NotifyProjectionUpdated, taskID, map[string]any{"node": ev.Node})
	if gateState != prevGate {
		s.notify(ctx, NotifyGateChanged, taskID, map[string]any{
			"waiting":   gateState.Waiting,
			"review_id": gateState.ReviewID,
		})
	}
	return nil
}

// recomputeLocked re-derives projection and gate state from the log.
// Callers must hold mu.
func (s *Session) recomputeLocked() []types.StepEvent {
	snapshot := s.log.Snapshot()
	s.projection = projector.Project(s.graph, snapshot)
	s.gateState = gate.Observe(s.graph, snapshot)
	return snapshot
}

// persist saves the history unless the task was replaced while the event
// was in flight; a stale save must not overwrite the new task's history.
func (s *Session) persist(ctx context.Context, gen uint64, taskID string, events []types.StepEvent) {
	if s.store == nil || taskID == "" {
		return
	}
	s.mu.RLock()
	current := s.generation
	s.mu.RUnlock()
	if current != gen {
		return
	}
	if err := s.store.SaveHistory(ctx, taskID, events); err != nil {
		s.logger.Warn("failed to persist task history",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
	}
}

// Restore replaces the active task with a history loaded from storage,
// replaying it through the projector.
func (s *Session) Restore(ctx context.Context, taskID string) error {
	if s.store == nil {
		return ErrNoStorage
	}
	history, err := s.store.GetHistory(ctx, taskID)
	if err != nil {
		return fmt.Errorf("restore task %s: %w", taskID, err)
	}

	s.mu.Lock()
	s.generation++
	s.taskID = taskID
	s.failure = ""
	s.log.Reset()
	for _, ev := range history {
		if appendErr := s.log.Append(ev); appendErr != nil {
			s.logger.Warn("skipping invalid event in stored history",
				slog.String("node", ev.Node))
		}
	}
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify(ctx, NotifyTaskResumed, taskID, map[string]any{"events": len(history)})
	return nil
}

// Projection returns the current derived render state. A backend-reported
// failure overrides the summary. Callers must not mutate the maps.
func (s *Session) Projection() projector.Projection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.projection
	if s.failure != "" {
		p.Summary = projector.Summary{
			Kind: projector.StatusFailed,
			Text: "failed: " + s.failure,
		}
	}
	return p
}

// Gate returns the current review-gate state.
func (s *Session) Gate() types.GateState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gateState
}

// History returns a copy of the active task's event log.
func (s *Session) History() []types.StepEvent {
	return s.log.Snapshot()
}

// NodeDetail returns the most recent event for a node, for the operator's
// per-node inspection panel.
func (s *Session) NodeDetail(node string) (types.StepEvent, bool) {
	history := s.log.Snapshot()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Node == node {
			return history[i], true
		}
	}
	return types.StepEvent{}, false
}

// SubmitDecision records the human decision for the review the task is
// paused on. On failure the item stays awaiting review; retry is the
// operator's call. When an approval resumes the pipeline under a
// continuation task, the session adopts that task without resetting the
// log, so the remaining steps extend the current run.
func (s *Session) SubmitDecision(ctx context.Context, approved bool) (client.Decision, error) {
	if s.api == nil {
		return client.Decision{}, ErrNoBackend
	}
	gs := s.Gate()
	if !gs.Waiting {
		return client.Decision{}, ErrNotAwaitingReview
	}

	decision, err := s.api.SubmitDecision(ctx, gs.ReviewID, approved)
	if err != nil {
		return client.Decision{}, err
	}

	if approved && decision.ContinuationTaskID != "" {
		s.mu.Lock()
		s.taskID = decision.ContinuationTaskID
		s.mu.Unlock()
		s.notify(ctx, NotifyTaskResumed, decision.ContinuationTaskID, map[string]any{
			"review_id": gs.ReviewID,
		})
	}
	return decision, nil
}

// SubmitFeedback sends reviewer feedback for the review the task is
// paused on. Fire-and-forget: failures are logged, never retried.
func (s *Session) SubmitFeedback(ctx context.Context, feedback string) error {
	if s.api == nil {
		return ErrNoBackend
	}
	gs := s.Gate()
	if !gs.Waiting {
		return ErrNotAwaitingReview
	}
	if err := s.api.SubmitFeedback(ctx, gs.ReviewID, feedback); err != nil {
		s.logger.Warn("feedback submission failed",
			slog.Int64("review_id", gs.ReviewID),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// notify publishes a notification when a bus is configured. Having no
// subscriber is not an error.
func (s *Session) notify(ctx context.Context, typ, taskID string, data map[string]any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, events.Notification{Type: typ, TaskID: taskID, Data: data}); err != nil &&
		!errors.Is(err, events.ErrNoHandler) {
		s.logger.Debug("notification dropped",
			slog.String("type", typ),
			slog.String("error", err.Error()))
	}
}
