// Package gosynth plans and generates dependency-aware synthetic data for
// agent test environments. An Engine ties the schema catalog, the planners
// and the generation executor to a store.
package gosynth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
	"github.com/brunobiangulo/gosynth/generator"
	"github.com/brunobiangulo/gosynth/llm"
	"github.com/brunobiangulo/gosynth/metrics"
	"github.com/brunobiangulo/gosynth/notify"
	"github.com/brunobiangulo/gosynth/planner"
	"github.com/brunobiangulo/gosynth/store"
	"github.com/brunobiangulo/gosynth/store/postgres"
)

// Engine is the main entry point for planning and generating data.
type Engine interface {
	// BuildDAG plans the data one task needs in an environment.
	BuildDAG(ctx context.Context, environmentID, task string) (*DAGResult, error)

	// SetupEnvironment plans a shared world and scenes for tasks and saves
	// the extended world narrative on the environment.
	SetupEnvironment(ctx context.Context, environmentID string, tasks []string) (*planner.EnvironmentPlan, error)

	// GenerateDAG generates and persists every node of g.
	GenerateDAG(ctx context.Context, environmentID string, g *dag.Graph) (*generator.Result, error)

	// GeneratePlan generates and persists every node of a setup plan.
	GeneratePlan(ctx context.Context, environmentID string, plan *planner.EnvironmentPlan) (*generator.Result, error)

	// GenerateFromTask builds the DAG for task and generates it.
	GenerateFromTask(ctx context.Context, environmentID, task string) (*generator.Result, error)

	// GenerateFromScenario runs the two-stage pipeline for a free-text
	// scenario and inserts what it extracted.
	GenerateFromScenario(ctx context.Context, environmentID, scenario string) (*ScenarioResult, error)

	CreateEnvironment(ctx context.Context, name string, connectors []string) (*catalog.Environment, error)
	GetEnvironment(ctx context.Context, id string) (*catalog.Environment, error)
	ImportSchemas(ctx context.Context, refs []catalog.SchemaRef) (int, error)
	ListSchemas(ctx context.Context) ([]catalog.SchemaRef, error)
	ListRecords(ctx context.Context, environmentID string) ([]catalog.Record, error)

	// Store returns the underlying store for diagnostic access.
	Store() catalog.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// DAGResult is a built graph in the flat form callers consume.
type DAGResult struct {
	dag.Record
	AvailableSchemas []string   `json:"available_schemas"`
	GenerationOrder  [][]string `json:"generation_order"`
	LinearOrder      []string   `json:"linear_order"`
	Mermaid          string     `json:"mermaid"`

	Graph *dag.Graph `json:"-"`
}

// ScenarioResult reports a two-stage scenario run.
type ScenarioResult struct {
	*generator.TwoStageResult
	Inserted []string `json:"inserted"`
}

// Option configures an Engine.
type Option func(*engine)

// WithStore uses s instead of opening the configured backend.
func WithStore(s catalog.Store) Option {
	return func(e *engine) { e.store = s }
}

// WithProvider uses p instead of building one from Config.Chat.
func WithProvider(p llm.Provider) Option {
	return func(e *engine) { e.chat = p }
}

// WithPublisher publishes lifecycle events to p.
func WithPublisher(p notify.Publisher) Option {
	return func(e *engine) { e.events = p }
}

// WithMetrics records run metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *engine) { e.metrics = m }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	store    catalog.Store
	chat     llm.Provider
	events   notify.Publisher
	metrics  *metrics.Metrics
	builder  *planner.Builder
	scenario *planner.ScenarioPlanner
	executor *generator.Executor
	twoStage *generator.TwoStage
	closed   atomic.Bool
}

// New creates an engine. Dependencies not supplied through options are
// built from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}

	if e.chat == nil {
		p, err := llm.NewProvider(llm.Config{
			Provider: cfg.Chat.Provider,
			Model:    cfg.Chat.Model,
			BaseURL:  cfg.Chat.BaseURL,
			APIKey:   cfg.Chat.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		e.chat = p
	}
	e.chat = failedRequests{e.chat}

	if e.store == nil {
		s, err := openStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		e.store = s
	}

	if e.events == nil {
		e.events = notify.Nop{}
		if cfg.NATSURL != "" {
			p, err := notify.ConnectNATS(cfg.NATSURL, cfg.SubjectPrefix)
			if err != nil {
				e.store.Close()
				return nil, fmt.Errorf("connecting events: %w", err)
			}
			e.events = p
		}
	}

	planOpts := []planner.Option{
		planner.WithModel(cfg.Chat.Model),
		planner.WithTemperature(cfg.Temperature),
		planner.WithExistingLimit(cfg.ExistingLimit),
	}
	e.builder = planner.NewBuilder(e.chat, planOpts...)
	e.scenario = planner.NewScenarioPlanner(e.chat, planOpts...)
	e.executor = generator.NewExecutor(e.chat, e.store,
		generator.WithConcurrency(cfg.GenerationConcurrency),
		generator.WithModel(cfg.Chat.Model),
		generator.WithNodeTimeout(time.Duration(cfg.NodeTimeoutSeconds)*time.Second),
		generator.WithMetrics(e.metrics),
	)
	e.twoStage = generator.NewTwoStage(e.chat, cfg.Chat.Model)
	return e, nil
}

func openStore(ctx context.Context, cfg Config) (catalog.Store, error) {
	if cfg.Store == "postgres" {
		return postgres.New(ctx, cfg.DatabaseURL)
	}
	return store.New(cfg.resolveDBPath())
}

// failedRequests marks provider errors with ErrLLMRequestFailed.
type failedRequests struct {
	llm.Provider
}

func (f failedRequests) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := f.Provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLLMRequestFailed, err)
	}
	return resp, nil
}

// scope is everything a planning or generation call reads about an
// environment.
type scope struct {
	env      *catalog.Environment
	schemas  []catalog.SchemaRef
	existing []catalog.Record
}

// loadScope fetches the environment, the schemas of its connectors and
// its existing data. It fails before any model call when the environment
// is unknown, has no connectors or matches no schemas.
func (e *engine) loadScope(ctx context.Context, environmentID string) (*scope, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	env, err := e.GetEnvironment(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if len(env.Connectors) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoConnectors, environmentID)
	}
	schemas, err := e.store.FetchSchemas(ctx, env.Connectors)
	if err != nil {
		return nil, fmt.Errorf("fetching schemas: %w", err)
	}
	if len(schemas) == 0 {
		slog.Warn("gosynth: no schemas for connectors", "environment_id", environmentID, "connectors", env.Connectors)
		return nil, ErrNoSchemas
	}
	existing, err := e.store.FetchExistingData(ctx, environmentID, env.Connectors)
	if err != nil {
		return nil, fmt.Errorf("fetching existing data: %w", err)
	}
	existing = filterComponents(existing, e.cfg.ExistingComponents)

	slog.Debug("gosynth: scope loaded", "environment_id", environmentID,
		"connectors", env.Connectors, "schemas", len(schemas), "existing", len(existing))
	return &scope{env: env, schemas: schemas, existing: existing}, nil
}

// filterComponents keeps records whose schema id is in allowed. An empty
// allowed list keeps everything.
func filterComponents(records []catalog.Record, allowed []string) []catalog.Record {
	if len(allowed) == 0 {
		return records
	}
	out := make([]catalog.Record, 0, len(records))
	for _, r := range records {
		if slices.Contains(allowed, r.SchemaID()) {
			out = append(out, r)
		}
	}
	return out
}

func schemaIDs(schemas []catalog.SchemaRef) []string {
	out := make([]string, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s.ID())
	}
	return out
}

// BuildDAG plans the data one task needs in an environment.
func (e *engine) BuildDAG(ctx context.Context, environmentID, task string) (res *DAGResult, err error) {
	start := time.Now()
	defer func() { e.finishRun(ctx, catalog.RunDAG, environmentID, task, start, res, err) }()

	sc, err := e.loadScope(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	g, err := e.builder.Build(ctx, task, sc.schemas, sc.existing)
	if err != nil {
		return nil, err
	}
	sched, err := planner.NewSchedule(g)
	if err != nil {
		return nil, err
	}
	e.metrics.ObservePlanSize(catalog.RunDAG, g.Len())

	res = &DAGResult{
		Record:           g.ToRecord(),
		AvailableSchemas: schemaIDs(sc.schemas),
		GenerationOrder:  sched.Waves,
		LinearOrder:      sched.Linear,
		Mermaid:          g.ToMermaid(),
		Graph:            g,
	}
	e.publish(ctx, notify.EventDAGBuilt, environmentID, map[string]any{
		"nodes":  g.Len(),
		"edges":  len(res.Edges),
		"levels": len(res.GenerationOrder),
	})
	return res, nil
}

// SetupEnvironment plans the environment for tasks and saves the world.
func (e *engine) SetupEnvironment(ctx context.Context, environmentID string, tasks []string) (plan *planner.EnvironmentPlan, err error) {
	start := time.Now()
	defer func() {
		e.finishRun(ctx, catalog.RunSetup, environmentID, strings.Join(tasks, "\n"), start, plan, err)
	}()

	sc, err := e.loadScope(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	slog.Info("gosynth: setting up environment", "environment_id", environmentID,
		"tasks", len(tasks), "existing_world", sc.env.WorldMarkdown != "")

	plan, err = e.scenario.Plan(ctx, planner.PlanRequest{
		Tasks:         tasks,
		Schemas:       sc.schemas,
		ExistingWorld: sc.env.WorldMarkdown,
		ExistingData:  sc.existing,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObservePlanSize(catalog.RunSetup, plan.NodeCount())

	if err := e.store.SaveWorld(ctx, environmentID, plan.WorldMarkdown); err != nil {
		return nil, fmt.Errorf("saving world: %w", err)
	}
	slog.Info("gosynth: world saved", "environment_id", environmentID,
		"scenes", len(plan.Scenes), "nodes", plan.NodeCount())
	e.publish(ctx, notify.EventWorldSaved, environmentID, map[string]any{
		"scenes":   len(plan.Scenes),
		"nodes":    plan.NodeCount(),
		"warnings": len(plan.Warnings),
	})
	return plan, nil
}

// GenerateDAG attaches the environment's schemas to g and generates it.
func (e *engine) GenerateDAG(ctx context.Context, environmentID string, g *dag.Graph) (*generator.Result, error) {
	if g == nil {
		return nil, errors.New("gosynth: nil dag")
	}
	sc, err := e.loadScope(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if err := planner.Attach(g, sc.schemas); err != nil {
		return nil, err
	}
	return e.generate(ctx, environmentID, g)
}

// GeneratePlan flattens plan and generates it.
func (e *engine) GeneratePlan(ctx context.Context, environmentID string, plan *planner.EnvironmentPlan) (*generator.Result, error) {
	if plan == nil {
		return nil, errors.New("gosynth: nil plan")
	}
	sc, err := e.loadScope(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	g, err := plan.Graph("environment setup", catalog.NewSet(sc.schemas))
	if err != nil {
		return nil, err
	}
	return e.generate(ctx, environmentID, g)
}

// GenerateFromTask builds the DAG for task and generates it.
func (e *engine) GenerateFromTask(ctx context.Context, environmentID, task string) (*generator.Result, error) {
	built, err := e.BuildDAG(ctx, environmentID, task)
	if err != nil {
		return nil, err
	}
	return e.generate(ctx, environmentID, built.Graph)
}

func (e *engine) generate(ctx context.Context, environmentID string, g *dag.Graph) (res *generator.Result, err error) {
	start := time.Now()
	defer func() { e.finishRun(ctx, catalog.RunGenerate, environmentID, g.Task, start, res, err) }()

	res, err = e.executor.Run(ctx, environmentID, g)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, notify.EventRecordsPersisted, environmentID, map[string]any{
		"inserted": len(res.Inserted),
		"patched":  len(res.Patched),
	})
	return res, nil
}

// GenerateFromScenario runs the two-stage pipeline and inserts the
// extracted objects.
func (e *engine) GenerateFromScenario(ctx context.Context, environmentID, scenario string) (res *ScenarioResult, err error) {
	start := time.Now()
	defer func() { e.finishRun(ctx, catalog.RunScenario, environmentID, scenario, start, res, err) }()

	if strings.TrimSpace(scenario) == "" {
		return nil, planner.ErrEmptyTask
	}
	sc, err := e.loadScope(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	out, err := e.twoStage.Generate(ctx, scenario, sc.schemas, sc.existing)
	if err != nil {
		return nil, err
	}
	ids, err := e.store.Persist(ctx, environmentID, out.Records(environmentID), nil)
	if err != nil {
		return nil, fmt.Errorf("inserting generated data: %w", err)
	}
	e.metrics.RecordsPersisted(len(ids), 0)

	slog.Info("gosynth: scenario generated", "environment_id", environmentID,
		"raw_length", out.RawLength, "schemas", out.SchemasProcessed,
		"generated", len(out.Generated), "inserted", len(ids))
	e.publish(ctx, notify.EventRecordsPersisted, environmentID, map[string]any{
		"inserted": len(ids),
		"skipped":  len(out.Skipped),
	})
	return &ScenarioResult{TwoStageResult: out, Inserted: ids}, nil
}

// CreateEnvironment registers a new environment exposing connectors.
func (e *engine) CreateEnvironment(ctx context.Context, name string, connectors []string) (*catalog.Environment, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	id, err := e.store.CreateEnvironment(ctx, catalog.Environment{Name: name, Connectors: connectors})
	if err != nil {
		return nil, fmt.Errorf("creating environment: %w", err)
	}
	env, err := e.store.GetEnvironment(ctx, id)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, notify.EventEnvironmentAdded, id, map[string]any{"connectors": connectors})
	return env, nil
}

// GetEnvironment returns the environment or ErrEnvironmentNotFound.
func (e *engine) GetEnvironment(ctx context.Context, id string) (*catalog.Environment, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	env, err := e.store.GetEnvironment(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, id)
	}
	return env, err
}

// ImportSchemas upserts refs into the catalog and returns how many were
// written.
func (e *engine) ImportSchemas(ctx context.Context, refs []catalog.SchemaRef) (int, error) {
	if e.closed.Load() {
		return 0, ErrStoreClosed
	}
	for i, ref := range refs {
		if err := e.store.UpsertSchema(ctx, ref); err != nil {
			return i, fmt.Errorf("importing schema %s: %w", ref.ID(), err)
		}
	}
	slog.Info("gosynth: schemas imported", "count", len(refs))
	return len(refs), nil
}

// ListSchemas returns the whole catalog.
func (e *engine) ListSchemas(ctx context.Context) ([]catalog.SchemaRef, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	return e.store.ListSchemas(ctx)
}

// ListRecords returns the generated data of an environment.
func (e *engine) ListRecords(ctx context.Context, environmentID string) ([]catalog.Record, error) {
	if e.closed.Load() {
		return nil, ErrStoreClosed
	}
	return e.store.ListRecords(ctx, environmentID)
}

// Store returns the underlying store.
func (e *engine) Store() catalog.Store {
	return e.store
}

// Close shuts down the event publisher and the store.
func (e *engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(e.events.Close(), e.store.Close())
}

// finishRun records metrics and an audit entry for one call. Audit
// failures are logged, never returned.
func (e *engine) finishRun(ctx context.Context, kind, environmentID, input string, start time.Time, output any, err error) {
	elapsed := time.Since(start)
	e.metrics.ObserveRun(kind, elapsed, err)
	if e.closed.Load() {
		return
	}

	run := catalog.Run{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		Kind:          kind,
		Model:         e.cfg.Chat.Model,
		Input:         input,
		Status:        "ok",
		ElapsedMs:     elapsed.Milliseconds(),
	}
	if err != nil {
		run.Status = "error"
		run.Error = err.Error()
		slog.Warn("gosynth: run failed", "kind", kind, "environment_id", environmentID, "error", err)
	} else if data, mErr := json.Marshal(output); mErr == nil {
		run.Output = string(data)
	}
	// The caller's context may already be cancelled.
	if lerr := e.store.LogRun(context.WithoutCancel(ctx), run); lerr != nil {
		slog.Warn("gosynth: logging run", "kind", kind, "error", lerr)
	}
}

func (e *engine) publish(ctx context.Context, typ, environmentID string, attrs map[string]any) {
	ev := notify.Event{
		Type:          typ,
		EnvironmentID: environmentID,
		Attributes:    attrs,
		Time:          time.Now().UTC(),
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		slog.Warn("gosynth: publishing event", "type", typ, "error", err)
	}
}
