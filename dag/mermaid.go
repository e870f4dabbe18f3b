package dag

import (
	"fmt"
	"strings"
)

var mermaidID = strings.NewReplacer("/", "_", "-", "_", " ", "_", ".", "_")

// ToMermaid renders the graph as a Mermaid flowchart for inspection.
// Explicit edges are drawn solid with their relationship; dependencies
// that have no edge are drawn dotted. The output is not parseable back.
func (g *Graph) ToMermaid() string {
	var b strings.Builder
	b.WriteString("graph TD")

	for _, id := range g.order {
		n := g.nodes[id]
		label := strings.ReplaceAll(n.SchemaID, `"`, "#quot;")
		fmt.Fprintf(&b, "\n    %s[\"%s\"]", mermaidID.Replace(id), label)
	}

	drawn := make(map[[2]string]bool, len(g.edges))
	for _, e := range g.edges {
		drawn[[2]string{e.Source, e.Target}] = true
		fmt.Fprintf(&b, "\n    %s -->|%s| %s",
			mermaidID.Replace(e.Source), e.Relationship, mermaidID.Replace(e.Target))
	}
	for _, id := range g.order {
		for _, d := range g.Dependencies(id) {
			if drawn[[2]string{d, id}] {
				continue
			}
			fmt.Fprintf(&b, "\n    %s -.-> %s", mermaidID.Replace(d), mermaidID.Replace(id))
		}
	}
	return b.String()
}
