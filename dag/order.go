package dag

// Validate checks that the dependency relation over known node ids is
// acyclic. Dependencies naming unknown ids are ignored here; see Dangling.
func (g *Graph) Validate() error {
	if cycle := g.findCycle(); cycle != nil {
		return &CycleError{Path: cycle}
	}
	return nil
}

// GenerationOrder groups nodes into waves. Every node's dependencies lie
// in strictly earlier waves, so the nodes of one wave can be generated in
// parallel while waves run in sequence. Within a wave nodes keep
// insertion order, which callers should not rely on.
func (g *Graph) GenerationOrder() ([][]*Node, error) {
	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		deps := g.Dependencies(id)
		indegree[id] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], id)
		}
	}

	var waves [][]*Node
	done := 0
	for done < len(g.order) {
		var wave []*Node
		for _, id := range g.order {
			if indegree[id] == 0 {
				wave = append(wave, g.nodes[id])
			}
		}
		if len(wave) == 0 {
			cycle := g.findCycle()
			return nil, &CycleError{Path: cycle}
		}
		for _, n := range wave {
			indegree[n.ID] = -1
			for _, child := range dependents[n.ID] {
				indegree[child]--
			}
		}
		done += len(wave)
		waves = append(waves, wave)
	}
	return waves, nil
}

// LinearOrder returns one topological order of all nodes.
func (g *Graph) LinearOrder() ([]*Node, error) {
	waves, err := g.GenerationOrder()
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(g.order))
	for _, w := range waves {
		out = append(out, w...)
	}
	return out, nil
}

// GenerationOrderIDs is GenerationOrder reduced to node ids.
func (g *Graph) GenerationOrderIDs() ([][]string, error) {
	waves, err := g.GenerationOrder()
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(waves))
	for i, w := range waves {
		ids := make([]string, len(w))
		for j, n := range w {
			ids[j] = n.ID
		}
		out[i] = ids
	}
	return out, nil
}

// findCycle runs a coloured DFS along parent -> child edges and returns
// the first cycle found as a closed path, or nil.
func (g *Graph) findCycle() []string {
	children := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		for _, d := range g.Dependencies(id) {
			children[d] = append(children[d], id)
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.order))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		path = append(path, id)
		for _, next := range children[id] {
			switch color[next] {
			case grey:
				for i, p := range path {
					if p == next {
						cycle := append([]string{}, path[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}
