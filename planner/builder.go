// Package planner turns free-text agent tasks into plans of synthetic
// data: a validated dependency graph for one task (Builder) or a shared
// world with scenes for a batch of tasks (ScenarioPlanner). Each call
// makes exactly one model request and performs no I/O of its own.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
	"github.com/brunobiangulo/gosynth/llm"
)

// Option configures a Builder or ScenarioPlanner.
type Option func(*options)

type options struct {
	model         string
	temperature   float64
	existingLimit int
}

func defaultOptions() options {
	return options{existingLimit: DefaultExistingLimit}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithTemperature sets the sampling temperature for the planning call.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

// WithExistingLimit changes how many existing records are summarised.
func WithExistingLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.existingLimit = n
		}
	}
}

// Builder produces a validated dag.Graph for one task.
type Builder struct {
	chat llm.Provider
	opts options
}

// NewBuilder creates a builder that plans with chat.
func NewBuilder(chat llm.Provider, opts ...Option) *Builder {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Builder{chat: chat, opts: o}
}

// Build plans the data that must exist for task. Every node's schema id
// must be in schemas and the dependency graph must be acyclic; otherwise
// no graph is returned. existing may be nil.
func (b *Builder) Build(ctx context.Context, task string, schemas []catalog.SchemaRef, existing []catalog.Record) (*dag.Graph, error) {
	if strings.TrimSpace(task) == "" {
		return nil, ErrEmptyTask
	}
	if len(schemas) == 0 {
		return nil, ErrNoSchemas
	}
	set := catalog.NewSet(schemas)

	slog.Info("planner: building dag", "task", truncate(task, 100),
		"schemas", set.Len(), "existing", len(existing))

	start := time.Now()
	resp, err := b.chat.Chat(ctx, llm.ChatRequest{
		Model: b.opts.model,
		Messages: []llm.Message{
			llm.System(dagSystemPrompt),
			llm.User(buildDAGPrompt(task, set, existing, b.opts.existingLimit)),
		},
		Temperature:    b.opts.temperature,
		ResponseFormat: llm.FormatJSONObject,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: dag model call: %w", err)
	}

	g, err := parseGraph(task, resp.Content, set)
	if err != nil {
		return nil, err
	}
	if err := validateSchemas(g, set); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	for id, missing := range g.Dangling() {
		slog.Warn("planner: node depends on unknown ids", "node", id, "missing", missing)
	}

	slog.Info("planner: dag built",
		"nodes", g.Len(), "edges", len(g.Edges()),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return g, nil
}

// validateSchemas fails on the first node, in insertion order, whose
// schema id is outside set.
func validateSchemas(g *dag.Graph, set *catalog.Set) error {
	for _, n := range g.Nodes() {
		if !set.Contains(n.SchemaID) {
			return &SchemaReferenceError{NodeID: n.ID, SchemaID: n.SchemaID, Valid: set.SortedIDs()}
		}
	}
	return nil
}

// Attach resolves the schema of every node of a graph that did not come
// from Build, such as one decoded from a dag.Record. It fails like Build
// does on unknown schema ids and on cycles.
func Attach(g *dag.Graph, schemas []catalog.SchemaRef) error {
	if len(schemas) == 0 {
		return ErrNoSchemas
	}
	set := catalog.NewSet(schemas)
	if err := validateSchemas(g, set); err != nil {
		return err
	}
	for _, n := range g.Nodes() {
		if ref, ok := set.Lookup(n.SchemaID); ok && ref.Schema != nil {
			n.Schema = ref.Schema
		}
	}
	return g.Validate()
}

// Schedule is the execution view of a validated graph.
type Schedule struct {
	// Waves are the topological generations. Nodes within a wave are
	// independent of each other.
	Waves  [][]string `json:"generation_order"`
	Linear []string   `json:"linear_order"`
}

// NewSchedule computes both orders for g.
func NewSchedule(g *dag.Graph) (*Schedule, error) {
	waves, err := g.GenerationOrderIDs()
	if err != nil {
		return nil, err
	}
	s := &Schedule{Waves: waves, Linear: make([]string, 0, g.Len())}
	for _, w := range waves {
		s.Linear = append(s.Linear, w...)
	}
	return s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
