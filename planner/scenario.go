package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
	"github.com/brunobiangulo/gosynth/llm"
)

// PlanRequest is the input to one scenario planning call.
type PlanRequest struct {
	Tasks         []string
	Schemas       []catalog.SchemaRef
	ExistingWorld string
	ExistingData  []catalog.Record
}

// Scene is a named bundle of nodes sharing one narrative purpose. Scenes
// carry no edges; ordering comes from each node's DependsOn.
type Scene struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	EntityRefs  []string   `json:"entity_refs"`
	Nodes       []dag.Node `json:"nodes"`
}

// EnvironmentPlan is the world narrative plus the scenes that populate it.
// Warnings lists soft validation findings; the plan is usable regardless.
type EnvironmentPlan struct {
	WorldMarkdown string   `json:"world_markdown"`
	Scenes        []Scene  `json:"scenes"`
	Warnings      []string `json:"warnings,omitempty"`
}

// NodeCount returns the number of nodes across all scenes.
func (p *EnvironmentPlan) NodeCount() int {
	n := 0
	for _, s := range p.Scenes {
		n += len(s.Nodes)
	}
	return n
}

// Graph flattens the scenes into one graph for execution. Unlike Plan it
// is strict: duplicate node ids, unknown schemas and cycles are errors.
func (p *EnvironmentPlan) Graph(task string, schemas *catalog.Set) (*dag.Graph, error) {
	g := dag.New(task)
	for _, sc := range p.Scenes {
		for _, n := range sc.Nodes {
			if !schemas.Contains(n.SchemaID) {
				return nil, &SchemaReferenceError{
					Scene: sc.Name, NodeID: n.ID, SchemaID: n.SchemaID, Valid: schemas.SortedIDs(),
				}
			}
			if ref, ok := schemas.Lookup(n.SchemaID); ok && ref.Schema != nil {
				n.Schema = ref.Schema
			}
			if err := g.InsertNode(n); err != nil {
				return nil, fmt.Errorf("scene %q: %w", sc.Name, err)
			}
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// ScenarioPlanner plans one coherent environment for a batch of tasks.
type ScenarioPlanner struct {
	chat llm.Provider
	opts options
}

// NewScenarioPlanner creates a planner that plans with chat.
func NewScenarioPlanner(chat llm.Provider, opts ...Option) *ScenarioPlanner {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &ScenarioPlanner{chat: chat, opts: o}
}

// Plan designs scenes that satisfy the data preconditions of every task
// and a world narrative that extends req.ExistingWorld. Nodes with schema
// ids outside req.Schemas and node ids repeated across scenes are
// reported as warnings, not errors.
func (sp *ScenarioPlanner) Plan(ctx context.Context, req PlanRequest) (*EnvironmentPlan, error) {
	if len(req.Tasks) == 0 {
		return nil, ErrNoTasks
	}
	if len(req.Schemas) == 0 {
		return nil, ErrNoSchemas
	}
	set := catalog.NewSet(req.Schemas)

	slog.Info("planner: planning environment",
		"tasks", len(req.Tasks), "schemas", set.IDs(),
		"existing_world", strings.TrimSpace(req.ExistingWorld) != "")

	start := time.Now()
	resp, err := sp.chat.Chat(ctx, llm.ChatRequest{
		Model: sp.opts.model,
		Messages: []llm.Message{
			llm.System(scenarioSystemPrompt),
			llm.User(buildScenarioPrompt(req, set, sp.opts.existingLimit)),
		},
		Temperature:    sp.opts.temperature,
		ResponseFormat: llm.FormatJSONObject,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: scenario model call: %w", err)
	}

	plan, err := parseScenario(resp.Content, set)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(plan.WorldMarkdown) == "" && strings.TrimSpace(req.ExistingWorld) != "" {
		return nil, newMalformed(stageScenario, resp.Content, errors.New("empty world_markdown would replace the existing world"))
	}

	plan.Warnings = softValidate(plan, set)
	for _, w := range plan.Warnings {
		slog.Warn("planner: plan warning", "warning", w)
	}

	if missing := MissingEntities(req.ExistingWorld, plan.WorldMarkdown); len(missing) > 0 {
		w := fmt.Sprintf("world dropped existing entities: %s", strings.Join(missing, ", "))
		plan.Warnings = append(plan.Warnings, w)
		slog.Warn("planner: world dropped existing entities", "missing", missing)
	}

	slog.Info("planner: environment planned",
		"scenes", len(plan.Scenes), "nodes", plan.NodeCount(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return plan, nil
}

// softValidate lists unknown schema references, blank instructions and
// node ids reused across scenes.
func softValidate(plan *EnvironmentPlan, set *catalog.Set) []string {
	var warnings []string
	seen := make(map[string]string)
	for _, sc := range plan.Scenes {
		for _, n := range sc.Nodes {
			if strings.TrimSpace(n.Instruction) == "" {
				warnings = append(warnings,
					fmt.Sprintf("scene %q node %q has no instruction", sc.Name, n.ID))
			}
			if !set.Contains(n.SchemaID) {
				e := &SchemaReferenceError{Scene: sc.Name, NodeID: n.ID, SchemaID: n.SchemaID, Valid: set.SortedIDs()}
				warnings = append(warnings, e.Error())
			}
			if prev, ok := seen[n.ID]; ok {
				warnings = append(warnings,
					fmt.Sprintf("node %q appears in scenes %q and %q", n.ID, prev, sc.Name))
				continue
			}
			seen[n.ID] = sc.Name
		}
	}
	return warnings
}
