package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medmatrix/console/client"
	"github.com/medmatrix/console/eventlog"
	"github.com/medmatrix/console/graph"
	"github.com/medmatrix/console/projector"
	"github.com/medmatrix/console/storage"
	"github.com/medmatrix/console/transport"
	"github.com/medmatrix/console/types"
)

type fakeAPI struct {
	mu          sync.Mutex
	submits     []string
	decisions   []int64
	feedbacks   []string
	taskRef     types.TaskRef
	decision    client.Decision
	submitErr   error
	decisionErr error
}

func (f *fakeAPI) SubmitTask(ctx context.Context, rawText, sessionID string) (types.TaskRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, rawText)
	if f.submitErr != nil {
		return types.TaskRef{}, f.submitErr
	}
	return f.taskRef, nil
}

func (f *fakeAPI) SubmitDecision(ctx context.Context, reviewID int64, approved bool) (client.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, reviewID)
	if f.decisionErr != nil {
		return client.Decision{}, f.decisionErr
	}
	return f.decision, nil
}

func (f *fakeAPI) SubmitFeedback(ctx context.Context, reviewID int64, feedback string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbacks = append(f.feedbacks, feedback)
	return nil
}

func reviewScenario() []types.StepEvent {
	return []types.StepEvent{
		{Node: "classifier", State: map[string]any{"product_type": "药品"}},
		{Node: "drug_extractor", State: map[string]any{"product_name": "阿莫西林胶囊"}},
		{Node: "validator", State: map[string]any{"review_reason": []any{"missing dosage"}}},
		{Node: "request_review", State: map[string]any{"review_id": float64(7)}},
	}
}

func TestSessionHandleEvent(t *testing.T) {
	g := graph.DefaultProductGraph()
	ctx := context.Background()

	t.Run("projection and gate track the log", func(t *testing.T) {
		s := New(g)
		for _, ev := range reviewScenario() {
			require.NoError(t, s.HandleEvent(ctx, ev))
		}

		p := s.Projection()
		assert.Equal(t, types.NodeBlockedForReview, p.Nodes["request_review"])
		assert.Equal(t, types.NodeFailed, p.Nodes["validator"])
		assert.Equal(t, projector.StatusAwaitingReview, p.Summary.Kind)

		gs := s.Gate()
		assert.True(t, gs.Waiting)
		assert.Equal(t, int64(7), gs.ReviewID)
	})

	t.Run("unknown node is rejected and state is unchanged", func(t *testing.T) {
		s := New(g)
		require.NoError(t, s.HandleEvent(ctx, types.StepEvent{Node: "classifier"}))
		before := s.Projection()

		err := s.HandleEvent(ctx, types.StepEvent{Node: "bogus"})
		var verr *eventlog.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "bogus", verr.Node)
		assert.Equal(t, before.Nodes, s.Projection().Nodes)
		assert.Equal(t, 1, len(s.History()))
	})

	t.Run("reserved error node overlays failure", func(t *testing.T) {
		s := New(g)
		require.NoError(t, s.HandleEvent(ctx, types.StepEvent{Node: "classifier"}))
		require.NoError(t, s.HandleEvent(ctx, types.StepEvent{
			Node:  "error",
			State: map[string]any{"error": "llm timeout"},
		}))

		p := s.Projection()
		assert.Equal(t, projector.StatusFailed, p.Summary.Kind)
		assert.Contains(t, p.Summary.Text, "llm timeout")
		// the log never contains the reserved node
		assert.Equal(t, 1, len(s.History()))
	})

	t.Run("node detail returns the latest event for a node", func(t *testing.T) {
		s := New(g)
		require.NoError(t, s.HandleEvent(ctx, types.StepEvent{Node: "classifier", State: map[string]any{"try": 1}}))
		require.NoError(t, s.HandleEvent(ctx, types.StepEvent{Node: "validator"}))
		require.NoError(t, s.HandleEvent(ctx, types.StepEvent{Node: "classifier", State: map[string]any{"try": 2}}))

		ev, ok := s.NodeDetail("classifier")
		require.True(t, ok)
		assert.Equal(t, 2, ev.State["try"])

		_, ok = s.NodeDetail("matcher")
		assert.False(t, ok)
	})
}

func TestSessionSubmit(t *testing.T) {
	g := graph.DefaultProductGraph()
	ctx := context.Background()

	t.Run("submit resets the log before the request", func(t *testing.T) {
		api := &fakeAPI{taskRef: types.TaskRef{TaskID: "task-2", Status: "PROCESSING"}}
		s := New(g, WithAPI(api))
		for _, ev := range reviewScenario() {
			require.NoError(t, s.HandleEvent(ctx, ev))
		}

		ref, err := s.Submit(ctx, "some raw product text")
		require.NoError(t, err)
		assert.Equal(t, "task-2", ref.TaskID)
		assert.Equal(t, "task-2", s.TaskID())
		assert.Equal(t, 0, len(s.History()))
		assert.Equal(t, types.NodeUntouched, s.Projection().Nodes["classifier"])
		assert.False(t, s.Gate().Waiting)
	})

	t.Run("failed submit still clears the previous task", func(t *testing.T) {
		api := &fakeAPI{submitErr: errors.New("backend down")}
		s := New(g, WithAPI(api))
		require.NoError(t, s.HandleEvent(ctx, types.StepEvent{Node: "classifier"}))

		_, err := s.Submit(ctx, "text")
		require.Error(t, err)
		assert.Equal(t, "", s.TaskID())
		assert.Equal(t, 0, len(s.History()))
	})

	t.Run("no backend configured", func(t *testing.T) {
		s := New(g)
		_, err := s.Submit(ctx, "text")
		assert.ErrorIs(t, err, ErrNoBackend)
	})
}

func TestSessionDecision(t *testing.T) {
	g := graph.DefaultProductGraph()
	ctx := context.Background()

	t.Run("requires an awaiting review", func(t *testing.T) {
		s := New(g, WithAPI(&fakeAPI{}))
		_, err := s.SubmitDecision(ctx, true)
		assert.ErrorIs(t, err, ErrNotAwaitingReview)
	})

	t.Run("approval adopts the continuation task", func(t *testing.T) {
		api := &fakeAPI{decision: client.Decision{
			Status:             client.DecisionSuccess,
			ContinuationTaskID: "task-cont",
		}}
		s := New(g, WithAPI(api))
		for _, ev := range reviewScenario() {
			require.NoError(t, s.HandleEvent(ctx, ev))
		}

		d, err := s.SubmitDecision(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, "task-cont", d.ContinuationTaskID)
		assert.Equal(t, "task-cont", s.TaskID())
		assert.Equal(t, []int64{7}, api.decisions)
		// history survives so the remaining steps extend this run
		assert.Equal(t, 4, len(s.History()))
	})

	t.Run("failed submission keeps the gate waiting", func(t *testing.T) {
		api := &fakeAPI{decisionErr: &client.SubmissionError{Status: "ERROR"}}
		s := New(g, WithAPI(api))
		for _, ev := range reviewScenario() {
			require.NoError(t, s.HandleEvent(ctx, ev))
		}

		_, err := s.SubmitDecision(ctx, false)
		require.Error(t, err)
		assert.True(t, s.Gate().Waiting)
	})

	t.Run("feedback requires an awaiting review", func(t *testing.T) {
		api := &fakeAPI{}
		s := New(g, WithAPI(api))
		assert.ErrorIs(t, s.SubmitFeedback(ctx, "wrong dosage"), ErrNotAwaitingReview)

		for _, ev := range reviewScenario() {
			require.NoError(t, s.HandleEvent(ctx, ev))
		}
		require.NoError(t, s.SubmitFeedback(ctx, "wrong dosage"))
		assert.Equal(t, []string{"wrong dosage"}, api.feedbacks)
	})
}

func TestSessionPersistence(t *testing.T) {
	g := graph.DefaultProductGraph()
	ctx := context.Background()

	t.Run("histories are saved per task and restorable", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		api := &fakeAPI{taskRef: types.TaskRef{TaskID: "task-1"}}
		s := New(g, WithAPI(api), WithStorage(store))

		_, err := s.Submit(ctx, "text")
		require.NoError(t, err)
		for _, ev := range reviewScenario() {
			require.NoError(t, s.HandleEvent(ctx, ev))
		}

		saved, err := store.GetHistory(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, 4, len(saved))

		restored := New(g, WithStorage(store))
		require.NoError(t, restored.Restore(ctx, "task-1"))
		assert.Equal(t, "task-1", restored.TaskID())
		assert.True(t, restored.Gate().Waiting)
		assert.Equal(t, projector.StatusAwaitingReview, restored.Projection().Summary.Kind)
	})

	t.Run("restore of an unknown task fails", func(t *testing.T) {
		s := New(g, WithStorage(storage.NewMemoryStorage()))
		err := s.Restore(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrHistoryNotFound)
	})

	t.Run("restore without storage fails", func(t *testing.T) {
		s := New(g)
		assert.ErrorIs(t, s.Restore(ctx, "task-1"), ErrNoStorage)
	})
}

func TestSessionRun(t *testing.T) {
	g := graph.DefaultProductGraph()

	t.Run("consumes pushed events until the transport closes", func(t *testing.T) {
		tr := transport.NewChanTransport(16)
		s := New(g)

		done := make(chan error, 1)
		go func() { done <- s.Run(context.Background(), tr) }()

		for _, ev := range reviewScenario() {
			require.True(t, tr.Push(ev))
		}
		require.NoError(t, tr.Close())

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return after transport close")
		}

		assert.True(t, s.Gate().Waiting)
		assert.Equal(t, 4, len(s.History()))
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		tr := transport.NewChanTransport(1)
		defer tr.Close()
		s := New(g)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx, tr) }()
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return after cancellation")
		}
	})
}
