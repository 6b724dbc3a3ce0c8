package types

import (
	"encoding/json"
	"time"
)

// NodeRole tags a pipeline stage with its function in the workflow.
type NodeRole string

const (
	RoleClassifier   NodeRole = "classifier"
	RoleExtractor    NodeRole = "extractor"
	RoleValidator    NodeRole = "validator"
	RoleMatcher      NodeRole = "matcher"
	RoleReviewGate   NodeRole = "review_gate"
	RoleTerminalSave NodeRole = "terminal_save"
	RoleTerminalEnd  NodeRole = "terminal_end"
)

// NodeRenderState is the derived visual classification of a node. It is
// always recomputed from the event log, never stored as primary state.
type NodeRenderState string

const (
	NodeUntouched        NodeRenderState = "untouched"
	NodeActive           NodeRenderState = "active"
	NodeCompleted        NodeRenderState = "completed"
	NodeBlockedForReview NodeRenderState = "blocked_for_review"
	NodeFailed           NodeRenderState = "failed"
)

// EdgeRenderState is the derived classification of an edge.
type EdgeRenderState string

const (
	EdgeTraversed   EdgeRenderState = "traversed"
	EdgeUntraversed EdgeRenderState = "untraversed"
)

// StepEvent is one record of a pipeline stage having executed, delivered
// over the push channel as {node, state}. Seq is assigned locally by the
// event log at append time; the wire format carries no sequence numbers.
type StepEvent struct {
	Node  string         `json:"node"`
	State map[string]any `json:"state"`
	Seq   int            `json:"seq,omitempty"`
}

// ReviewID returns the review_id carried in the event payload, if any.
func (e StepEvent) ReviewID() (int64, bool) {
	return asInt64(e.State["review_id"])
}

// ReviewReasons returns the review_reason payload field as a list of
// messages. A single string is treated as a one-element list.
func (e StepEvent) ReviewReasons() []string {
	v, ok := e.State["review_reason"]
	if !ok || v == nil {
		return nil
	}
	switch r := v.(type) {
	case string:
		if r == "" {
			return nil
		}
		return []string{r}
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, item := range r {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SPUID returns the spu_id carried in the event payload, if any.
func (e StepEvent) SPUID() (int64, bool) {
	return asInt64(e.State["spu_id"])
}

// MatchResult returns the nested match_result payload: its status and,
// when present, the matched spu_id.
func (e StepEvent) MatchResult() (status string, spuID int64, ok bool) {
	m, isMap := e.State["match_result"].(map[string]any)
	if !isMap {
		return "", 0, false
	}
	status, _ = m["status"].(string)
	if status == "" {
		return "", 0, false
	}
	spuID, _ = asInt64(m["spu_id"])
	return status, spuID, true
}

// asInt64 normalizes the numeric types encoding/json may produce.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// GateState reports whether the active task is paused on the review gate.
// The zero value means the run is not awaiting a human decision.
type GateState struct {
	Waiting  bool  `json:"waiting"`
	ReviewID int64 `json:"review_id,omitempty"`
}

// Running reports the inverse of Waiting for readability at call sites.
func (g GateState) Running() bool { return !g.Waiting }

// TaskRef identifies a submitted pipeline task.
type TaskRef struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// ReviewReason is one structured reason a run was routed to human review.
type ReviewReason struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	Field          string `json:"field,omitempty"`
	ExpectedFormat string `json:"expected_format,omitempty"`
}

// AgentRecord is one entry in a review item's append-only audit trail.
type AgentRecord struct {
	AgentName string         `json:"agent_name"`
	Output    map[string]any `json:"output"`
	Timestamp time.Time      `json:"timestamp"`
}

// MatchCandidate is a master-data match offered to the reviewer.
// Score is on a 0-100 scale.
type MatchCandidate struct {
	SPUID       int64             `json:"spu_id"`
	Score       float64           `json:"score"`
	ProductInfo map[string]string `json:"product_info"`
}

// FusionConflict records a field whose extracted value disagrees with an
// existing master-data record.
type FusionConflict struct {
	Field         string `json:"field"`
	ExistingValue string `json:"existing_value"`
	NewValue      string `json:"new_value"`
	Reason        string `json:"reason"`
}

// ReviewItem is a pipeline run paused for human adjudication. It is
// created and mutated only by the backend; the console reads it.
type ReviewItem struct {
	ReviewID        int64            `json:"review_id"`
	RawInfo         string           `json:"raw_info"`
	ProductType     string           `json:"product_type"`
	ExtractedData   map[string]any   `json:"extracted_data"`
	ValidatedData   map[string]any   `json:"validated_data"`
	ReviewReason    []ReviewReason   `json:"review_reason"`
	AgentHistory    []AgentRecord    `json:"agent_history"`
	MatchCandidates []MatchCandidate `json:"match_candidates"`
	FusionConflicts []FusionConflict `json:"fusion_conflicts"`
	Status          string           `json:"status"`
	PriorityScore   int              `json:"priority_score"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ProductName returns extracted_data.product_name, or "" when absent.
func (it ReviewItem) ProductName() string {
	s, _ := it.ExtractedData["product_name"].(string)
	return s
}

// Manufacturer returns extracted_data.manufacturer, or "" when absent.
func (it ReviewItem) Manufacturer() string {
	s, _ := it.ExtractedData["manufacturer"].(string)
	return s
}
