package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medmatrix/console/graph"
	"github.com/medmatrix/console/types"
)

func TestObserve(t *testing.T) {
	g := graph.DefaultProductGraph()

	tests := []struct {
		name   string
		events []types.StepEvent
		want   types.GateState
	}{
		{
			name:   "EmptyLog",
			events: nil,
			want:   types.GateState{},
		},
		{
			name:   "RunningTask",
			events: []types.StepEvent{{Node: "classifier"}, {Node: "drug_extractor"}},
			want:   types.GateState{},
		},
		{
			name: "AwaitingReview",
			events: []types.StepEvent{
				{Node: "validator"},
				{Node: "request_review", State: map[string]any{"review_id": float64(7)}},
			},
			want: types.GateState{Waiting: true, ReviewID: 7},
		},
		{
			name: "ReviewGateNotLast",
			events: []types.StepEvent{
				{Node: "request_review", State: map[string]any{"review_id": float64(7)}},
				{Node: "save_product"},
			},
			want: types.GateState{},
		},
		{
			name:   "ReviewGateWithoutReviewID",
			events: []types.StepEvent{{Node: "request_review"}},
			want:   types.GateState{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Observe(g, tt.events)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, !tt.want.Waiting, got.Running())
		})
	}
}
