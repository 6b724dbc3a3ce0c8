// Package gate derives the review-gate state of the active task. There is
// no stored flag: the gate is re-derived from the log's last event, so it
// cannot drift from the event history after a reload or reconnect.
package gate

import (
	"github.com/medmatrix/console/graph"
	"github.com/medmatrix/console/types"
)

// Observe returns awaiting-review(review_id) iff the last event's node is
// the review gate and its payload carries a review_id; otherwise running.
// The gate returns to running by itself once a later event is appended.
func Observe(g *graph.Graph, events []types.StepEvent) types.GateState {
	if len(events) == 0 {
		return types.GateState{}
	}
	last := events[len(events)-1]
	n, ok := g.Node(last.Node)
	if !ok || n.Role != types.RoleReviewGate {
		return types.GateState{}
	}
	reviewID, ok := last.ReviewID()
	if !ok {
		return types.GateState{}
	}
	return types.GateState{Waiting: true, ReviewID: reviewID}
}
