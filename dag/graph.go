package dag

import (
	"fmt"
	"maps"
	"slices"
)

// Relationship vocabulary for edges. Other values are accepted.
const (
	RelDataFlow    = "data_flow"
	RelReference   = "reference"
	RelDerivesFrom = "derives_from"
)

// Node is one planned synthetic-data object.
type Node struct {
	ID          string         `json:"id"`
	SchemaID    string         `json:"schema_id"`
	Instruction string         `json:"instruction"`
	// Context is an opaque bag of hints for the generation call.
	Context           map[string]any   `json:"context"`
	DependsOn         []string         `json:"depends_on"`
	ReferenceExamples []map[string]any `json:"reference_examples"`
	// UpdateExistingID names a stored record the output merges into.
	UpdateExistingID *string `json:"update_existing_id"`

	// Schema is the resolved schema structure, attached by the builder.
	Schema map[string]any `json:"-"`
}

// IsUpdate reports whether the node patches an existing record.
func (n *Node) IsUpdate() bool {
	return n.UpdateExistingID != nil && *n.UpdateExistingID != ""
}

// Edge is a directed dependency from Source (parent) to Target (child).
// Mapping is an advisory source-field to target-field hint.
type Edge struct {
	Source       string            `json:"source"`
	Target       string            `json:"target"`
	Relationship string            `json:"relationship"`
	Mapping      map[string]string `json:"mapping"`
}

// Graph is the aggregate of nodes (in insertion order) and edges.
// A Graph is not safe for concurrent mutation.
type Graph struct {
	Task  string
	nodes map[string]*Node
	order []string
	edges []Edge
}

// New returns an empty graph for task.
func New(task string) *Graph {
	return &Graph{Task: task, nodes: make(map[string]*Node)}
}

// AddNode stores a copy of n, replacing any node with the same id. A
// replaced node keeps its original position in the ordering.
func (g *Graph) AddNode(n Node) {
	c := normalizeNode(n)
	if _, ok := g.nodes[c.ID]; !ok {
		g.order = append(g.order, c.ID)
	}
	g.nodes[c.ID] = c
}

// InsertNode is AddNode that refuses to replace an existing id.
func (g *Graph) InsertNode(n Node) error {
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID)
	}
	g.AddNode(n)
	return nil
}

// AddEdge records e and adds e.Source to the target's DependsOn when the
// target already exists and does not list it. Edges whose target is added
// later do not back-fill.
func (g *Graph) AddEdge(e Edge) {
	e = g.appendEdge(e)
	if t, ok := g.nodes[e.Target]; ok && !slices.Contains(t.DependsOn, e.Source) {
		t.DependsOn = append(t.DependsOn, e.Source)
	}
}

// appendEdge records e with defaults applied and leaves DependsOn alone.
func (g *Graph) appendEdge(e Edge) Edge {
	if e.Relationship == "" {
		e.Relationship = RelDataFlow
	}
	if e.Mapping == nil {
		e.Mapping = map[string]string{}
	} else {
		e.Mapping = maps.Clone(e.Mapping)
	}
	g.edges = append(g.edges, e)
	return e
}

// Node returns the node with id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// IDs returns node ids in insertion order.
func (g *Graph) IDs() []string {
	return slices.Clone(g.order)
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the recorded edges in insertion order.
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// Dependencies returns the ids n depends on that exist in the graph, in
// DependsOn order without duplicates.
func (g *Graph) Dependencies(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	var deps []string
	for _, d := range n.DependsOn {
		if _, known := g.nodes[d]; known && !slices.Contains(deps, d) {
			deps = append(deps, d)
		}
	}
	return deps
}

// Dangling returns, per node id, the DependsOn entries that name no node
// in the graph. Ordering ignores them.
func (g *Graph) Dangling() map[string][]string {
	out := make(map[string][]string)
	for _, id := range g.order {
		for _, d := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[d]; !ok {
				out[id] = append(out[id], d)
			}
		}
	}
	return out
}

func normalizeNode(n Node) *Node {
	c := n
	if n.Context == nil {
		c.Context = map[string]any{}
	} else {
		c.Context = maps.Clone(n.Context)
	}
	if n.DependsOn == nil {
		c.DependsOn = []string{}
	} else {
		c.DependsOn = slices.Clone(n.DependsOn)
	}
	if n.ReferenceExamples == nil {
		c.ReferenceExamples = []map[string]any{}
	} else {
		c.ReferenceExamples = slices.Clone(n.ReferenceExamples)
	}
	if n.UpdateExistingID != nil {
		id := *n.UpdateExistingID
		c.UpdateExistingID = &id
	}
	return &c
}
