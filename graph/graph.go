// Package graph holds the fixed pipeline DAG and its construction-time
// validation. A Graph is immutable once built.
package graph

import (
	"fmt"

	"github.com/medmatrix/console/types"
)

// ConfigurationError reports a malformed workflow graph. It is fatal at
// startup; there is no recovery path.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "workflow graph misconfigured: " + e.Reason
}

// Node is one stage of the pipeline. Subtype is only set for extractor
// nodes (drug, device, ...). Label is the display name shown to operators.
type Node struct {
	ID      string
	Role    types.NodeRole
	Subtype string
	Label   string
}

// Edge is a permitted transition. Outcome optionally labels the condition
// under which the pipeline takes it ("matched", "approved", ...).
type Edge struct {
	From    string
	To      string
	Outcome string
}

// ID returns a stable identifier for keying derived edge state.
func (e Edge) ID() string { return e.From + "->" + e.To }

// Graph is the immutable pipeline DAG.
type Graph struct {
	nodes []Node
	edges []Edge
	byID  map[string]Node
	out   map[string][]Edge
	root  Node
}

// New validates and builds a Graph. It fails with *ConfigurationError when
// the node set or edge set violates the structural invariants: exactly one
// classifier root, no cycles, every node reachable from the root, every
// non-terminal node with at least one outgoing edge, and only terminal
// nodes acting as sinks.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, &ConfigurationError{Reason: "graph has no nodes"}
	}

	byID := make(map[string]Node, len(nodes))
	var root Node
	rootCount := 0
	for _, n := range nodes {
		if n.ID == "" {
			return nil, &ConfigurationError{Reason: "node with empty id"}
		}
		if _, dup := byID[n.ID]; dup {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		byID[n.ID] = n
		if n.Role == types.RoleClassifier {
			root = n
			rootCount++
		}
	}
	if rootCount != 1 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("expected exactly one classifier root, got %d", rootCount)}
	}

	out := make(map[string][]Edge, len(nodes))
	indeg := make(map[string]int, len(nodes))
	for _, e := range edges {
		if _, ok := byID[e.From]; !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("edge source %q is not a node", e.From)}
		}
		if _, ok := byID[e.To]; !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("edge target %q is not a node", e.To)}
		}
		out[e.From] = append(out[e.From], e)
		indeg[e.To]++
	}

	// Kahn's algorithm: if the topological order misses a node, there is
	// a cycle.
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++
		for _, e := range out[id] {
			indeg[e.To]--
			if indeg[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}
	if ordered != len(nodes) {
		return nil, &ConfigurationError{Reason: "graph contains a cycle"}
	}

	// Every node must be reachable from the classifier root.
	reached := map[string]bool{root.ID: true}
	stack := []string{root.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range out[id] {
			if !reached[e.To] {
				reached[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	for _, n := range nodes {
		if !reached[n.ID] {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("node %q is unreachable from the classifier", n.ID)}
		}
	}

	// Terminal-end nodes are the only permitted sinks; everything else
	// must lead somewhere.
	for _, n := range nodes {
		if len(out[n.ID]) == 0 && n.Role != types.RoleTerminalEnd {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("non-terminal node %q has no outgoing edges", n.ID)}
		}
	}

	g := &Graph{
		nodes: append([]Node(nil), nodes...),
		edges: append([]Edge(nil), edges...),
		byID:  byID,
		out:   out,
		root:  root,
	}
	return g, nil
}

// Nodes returns a copy of the node list in declaration order.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Edges returns a copy of the edge list in declaration order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// OutgoingEdges returns the edges leaving the given node.
func (g *Graph) OutgoingEdges(id string) []Edge {
	return append([]Edge(nil), g.out[id]...)
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// Has reports whether the id names a node of this graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.byID[id]
	return ok
}

// Root returns the classifier node.
func (g *Graph) Root() Node { return g.root }

// ReviewGate returns the review-gate node, if the graph has one.
func (g *Graph) ReviewGate() (Node, bool) {
	for _, n := range g.nodes {
		if n.Role == types.RoleReviewGate {
			return n, true
		}
	}
	return Node{}, false
}
