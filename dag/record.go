package dag

import (
	"maps"
	"slices"
)

// Record is the flat, JSON-friendly form of a Graph. FromRecord(ToRecord(g))
// reproduces every node and edge field of g except the attached schemas.
type Record struct {
	Task  string `json:"task"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// ToRecord snapshots the graph.
func (g *Graph) ToRecord() Record {
	rec := Record{
		Task:  g.Task,
		Nodes: make([]Node, 0, len(g.order)),
		Edges: make([]Edge, 0, len(g.edges)),
	}
	for _, id := range g.order {
		n := *normalizeNode(*g.nodes[id])
		n.Schema = nil
		rec.Nodes = append(rec.Nodes, n)
	}
	for _, e := range g.edges {
		e.Mapping = maps.Clone(e.Mapping)
		rec.Edges = append(rec.Edges, e)
	}
	return rec
}

// FromRecord rebuilds a graph. The recorded depends_on lists are kept as
// they are, so edges are restored without back-fill.
func FromRecord(rec Record) *Graph {
	g := New(rec.Task)
	for _, n := range rec.Nodes {
		n.DependsOn = slices.Clone(n.DependsOn)
		g.AddNode(n)
	}
	for _, e := range rec.Edges {
		g.appendEdge(e)
	}
	return g
}
