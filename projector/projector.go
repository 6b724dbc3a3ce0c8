// Package projector derives render state from the event log. Project is a
// pure function of (graph, events): calling it twice over the same log
// yields identical results, and extending the log never moves a completed
// node or traversed edge backwards.
package projector

import (
	"fmt"
	"strings"

	"github.com/medmatrix/console/graph"
	"github.com/medmatrix/console/types"
)

// StatusKind discriminates the task status summary.
type StatusKind string

const (
	StatusNotStarted     StatusKind = "not_started"
	StatusInProgress     StatusKind = "in_progress"
	StatusAwaitingReview StatusKind = "awaiting_review"
	StatusCreated        StatusKind = "created"
	StatusMatched        StatusKind = "matched"

	// StatusFailed is never produced by Project; the session overlays it
	// when the backend reports a pipeline error outside the graph.
	StatusFailed StatusKind = "failed"
)

// Summary is the human-readable task status derived from the latest event.
type Summary struct {
	Kind          StatusKind
	ReviewReasons []string
	SPUID         int64
	Text          string
}

// Projection is the full derived view of the pipeline run.
type Projection struct {
	Nodes   map[string]types.NodeRenderState
	Edges   map[string]types.EdgeRenderState
	Summary Summary
}

// Project computes the render state of every node and edge plus the status
// summary. An empty log yields all nodes untouched and a "not started"
// summary.
func Project(g *graph.Graph, events []types.StepEvent) Projection {
	nodes := make(map[string]types.NodeRenderState, len(g.Nodes()))
	edges := make(map[string]types.EdgeRenderState, len(g.Edges()))

	visited := make(map[string]bool, len(events))
	lastByNode := make(map[string]types.StepEvent, len(events))
	for _, ev := range events {
		visited[ev.Node] = true
		lastByNode[ev.Node] = ev
	}

	active := ""
	if len(events) > 0 {
		active = events[len(events)-1].Node
	}

	for _, n := range g.Nodes() {
		switch {
		case n.ID == active:
			if n.Role == types.RoleReviewGate {
				nodes[n.ID] = types.NodeBlockedForReview
			} else {
				nodes[n.ID] = types.NodeActive
			}
		case visited[n.ID]:
			if n.Role == types.RoleValidator && len(lastByNode[n.ID].ReviewReasons()) > 0 {
				nodes[n.ID] = types.NodeFailed
			} else {
				nodes[n.ID] = types.NodeCompleted
			}
		default:
			nodes[n.ID] = types.NodeUntouched
		}
	}

	for _, e := range g.Edges() {
		if visited[e.From] {
			edges[e.ID()] = types.EdgeTraversed
		} else {
			edges[e.ID()] = types.EdgeUntraversed
		}
	}

	return Projection{
		Nodes:   nodes,
		Edges:   edges,
		Summary: summarize(g, events),
	}
}

// summarize derives the status line from the last event, mirroring the
// precedence of the operator console: review gate first, then a created
// spu, then a successful match, then a generic in-progress state.
func summarize(g *graph.Graph, events []types.StepEvent) Summary {
	if len(events) == 0 {
		return Summary{Kind: StatusNotStarted, Text: "not started"}
	}
	last := events[len(events)-1]

	if n, ok := g.Node(last.Node); ok && n.Role == types.RoleReviewGate {
		reasons := latestReviewReasons(events)
		text := "awaiting review"
		if len(reasons) > 0 {
			text += ": " + strings.Join(reasons, "; ")
		}
		return Summary{Kind: StatusAwaitingReview, ReviewReasons: reasons, Text: text}
	}
	if spuID, ok := last.SPUID(); ok {
		return Summary{
			Kind:  StatusCreated,
			SPUID: spuID,
			Text:  fmt.Sprintf("completed, created SPU %d", spuID),
		}
	}
	if status, spuID, ok := last.MatchResult(); ok && isMatched(status) {
		return Summary{
			Kind:  StatusMatched,
			SPUID: spuID,
			Text:  fmt.Sprintf("completed, matched SPU %d", spuID),
		}
	}
	return Summary{Kind: StatusInProgress, Text: "in progress"}
}

// latestReviewReasons returns the most recent non-empty review_reason in
// the log. The backend attaches the reasons to the validator step, not to
// the review-gate event that pauses the run.
func latestReviewReasons(events []types.StepEvent) []string {
	for i := len(events) - 1; i >= 0; i-- {
		if reasons := events[i].ReviewReasons(); len(reasons) > 0 {
			return reasons
		}
	}
	return nil
}

// isMatched accepts both spellings the backend has used for a successful
// match result ("MATCH" and "matched").
func isMatched(status string) bool {
	return strings.EqualFold(status, "match") || strings.EqualFold(status, "matched")
}
