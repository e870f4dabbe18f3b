package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
	"github.com/brunobiangulo/gosynth/llm"
)

// Output stages named in MalformedOutputError.
const (
	stageDAG      = "dag"
	stageScenario = "scenario"
)

// nodeOutput is one node as the model emits it.
type nodeOutput struct {
	ID                string           `json:"id"`
	SchemaID          string           `json:"schema_id"`
	Instruction       string           `json:"instruction"`
	Context           map[string]any   `json:"context"`
	DependsOn         []string         `json:"depends_on"`
	ReferenceExamples []map[string]any `json:"reference_examples"`
	UpdateExistingID  *string          `json:"update_existing_id"`
}

// edgeOutput is one edge as the model emits it. Mapping values are
// loosely typed because models sometimes emit nested paths as objects.
type edgeOutput struct {
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	Relationship string         `json:"relationship"`
	Mapping      map[string]any `json:"mapping"`
}

// dagOutput is the builder reply. Nodes is a pointer so that a reply
// without the key is told apart from an empty graph.
type dagOutput struct {
	Nodes *[]nodeOutput `json:"nodes"`
	Edges []edgeOutput  `json:"edges"`
}

type sceneOutput struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	EntityRefs  []string     `json:"entity_refs"`
	Nodes       []nodeOutput `json:"nodes"`
}

// scenarioOutput is the scenario reply. Both fields are required; a
// missing world would erase the saved one.
type scenarioOutput struct {
	WorldMarkdown *string        `json:"world_markdown"`
	Scenes        *[]sceneOutput `json:"scenes"`
}

// decodeReply unmarshals the JSON object in raw into v. Only markdown
// fences and prose around the object are stripped.
func decodeReply(stage, raw string, v any) error {
	obj, err := llm.ExtractJSON(raw)
	if err != nil {
		return newMalformed(stage, raw, err)
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return newMalformed(stage, raw, err)
	}
	return nil
}

// toNode converts the wire node and attaches the schema structure, or an
// empty one when the schema id is unknown.
func (o nodeOutput) toNode(set *catalog.Set) dag.Node {
	n := dag.Node{
		ID:                o.ID,
		SchemaID:          o.SchemaID,
		Instruction:       o.Instruction,
		Context:           o.Context,
		DependsOn:         o.DependsOn,
		ReferenceExamples: o.ReferenceExamples,
		UpdateExistingID:  o.UpdateExistingID,
		Schema:            map[string]any{},
	}
	if ref, ok := set.Lookup(o.SchemaID); ok && ref.Schema != nil {
		n.Schema = ref.Schema
	}
	return n
}

func (o edgeOutput) toEdge() dag.Edge {
	e := dag.Edge{
		Source:       o.Source,
		Target:       o.Target,
		Relationship: o.Relationship,
	}
	if len(o.Mapping) > 0 {
		e.Mapping = make(map[string]string, len(o.Mapping))
		for k, v := range o.Mapping {
			if s, ok := v.(string); ok {
				e.Mapping[k] = s
				continue
			}
			raw, _ := json.Marshal(v)
			e.Mapping[k] = string(raw)
		}
	}
	return e
}

// parseGraph builds a graph from a builder reply: nodes first so every
// edge can back-fill its target, then edges in reply order.
func parseGraph(task, raw string, set *catalog.Set) (*dag.Graph, error) {
	var out dagOutput
	if err := decodeReply(stageDAG, raw, &out); err != nil {
		return nil, err
	}

	if out.Nodes == nil {
		return nil, newMalformed(stageDAG, raw, errors.New(`missing "nodes"`))
	}

	g := dag.New(task)
	for i, o := range *out.Nodes {
		if o.ID == "" {
			return nil, newMalformed(stageDAG, raw, fmt.Errorf("node %d has no id", i))
		}
		if strings.TrimSpace(o.Instruction) == "" {
			return nil, newMalformed(stageDAG, raw, fmt.Errorf("node %q has no instruction", o.ID))
		}
		if err := g.InsertNode(o.toNode(set)); err != nil {
			return nil, newMalformed(stageDAG, raw, err)
		}
	}
	for i, o := range out.Edges {
		if o.Source == "" || o.Target == "" {
			return nil, newMalformed(stageDAG, raw, fmt.Errorf("edge %d needs source and target", i))
		}
		g.AddEdge(o.toEdge())
	}
	return g, nil
}

// parseScenario converts a scenario reply into a plan. Both top-level
// fields, scene names and node ids are required; everything else is
// defaulted.
func parseScenario(raw string, set *catalog.Set) (*EnvironmentPlan, error) {
	var out scenarioOutput
	if err := decodeReply(stageScenario, raw, &out); err != nil {
		return nil, err
	}
	if out.WorldMarkdown == nil {
		return nil, newMalformed(stageScenario, raw, errors.New(`missing "world_markdown"`))
	}
	if out.Scenes == nil {
		return nil, newMalformed(stageScenario, raw, errors.New(`missing "scenes"`))
	}

	plan := &EnvironmentPlan{WorldMarkdown: *out.WorldMarkdown, Scenes: make([]Scene, 0, len(*out.Scenes))}
	for i, so := range *out.Scenes {
		if so.Name == "" {
			return nil, newMalformed(stageScenario, raw, fmt.Errorf("scene %d has no name", i))
		}
		sc := Scene{
			Name:        so.Name,
			Description: so.Description,
			EntityRefs:  so.EntityRefs,
			Nodes:       make([]dag.Node, 0, len(so.Nodes)),
		}
		if sc.EntityRefs == nil {
			sc.EntityRefs = []string{}
		}
		for j, o := range so.Nodes {
			if o.ID == "" {
				return nil, newMalformed(stageScenario, raw,
					fmt.Errorf("scene %q node %d has no id", so.Name, j))
			}
			n := o.toNode(set)
			if n.Context == nil {
				n.Context = map[string]any{}
			}
			if n.DependsOn == nil {
				n.DependsOn = []string{}
			}
			if n.ReferenceExamples == nil {
				n.ReferenceExamples = []map[string]any{}
			}
			sc.Nodes = append(sc.Nodes, n)
		}
		plan.Scenes = append(plan.Scenes, sc)
	}
	return plan, nil
}
