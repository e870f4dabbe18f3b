// Package generator turns plans into stored synthetic records. Executor
// walks a dependency graph wave by wave; TwoStage is the graph-free
// scenario pipeline (free text first, then one extraction per schema).
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
	"github.com/brunobiangulo/gosynth/llm"
	"github.com/brunobiangulo/gosynth/metrics"
)

// DefaultConcurrency bounds parallel node generation within a wave.
const DefaultConcurrency = 4

// perNodeTimeout caps one node's model call.
const perNodeTimeout = 120 * time.Second

// RecordStore is the storage the executor reads update targets from and
// persists results to.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*catalog.Record, error)
	Persist(ctx context.Context, environmentID string, inserts []catalog.Record, patches []catalog.Patch) ([]string, error)
}

// Output is one generated node.
type Output struct {
	NodeID           string         `json:"node_id"`
	SchemaID         string         `json:"schema_id"`
	Data             map[string]any `json:"data"`
	UpdateExistingID string         `json:"update_existing_id,omitempty"`
	RecordID         string         `json:"record_id,omitempty"`
}

// Result summarises one execution.
type Result struct {
	Waves    [][]string `json:"generation_order"`
	Outputs  []Output   `json:"outputs"`
	Inserted []string   `json:"inserted"`
	Patched  []string   `json:"patched"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency sets how many nodes of one wave run at once.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(e *Executor) { e.model = model }
}

// WithNodeTimeout overrides the per-node timeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.nodeTimeout = d
		}
	}
}

// WithMetrics records node and persistence counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// Executor generates the nodes of a validated graph in topological waves.
type Executor struct {
	chat        llm.Provider
	store       RecordStore
	concurrency int
	model       string
	nodeTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewExecutor creates an executor. store may be nil when only Generate
// is used and no node updates an existing record.
func NewExecutor(chat llm.Provider, store RecordStore, opts ...Option) *Executor {
	e := &Executor{
		chat:        chat,
		store:       store,
		concurrency: DefaultConcurrency,
		nodeTimeout: perNodeTimeout,
	}
	for _, fn := range opts {
		fn(e)
	}
	return e
}

// Run generates every node of g and persists the results for
// environmentID in one atomic write. Nothing is written unless every node
// succeeded.
func (e *Executor) Run(ctx context.Context, environmentID string, g *dag.Graph) (*Result, error) {
	if e.store == nil {
		return nil, errors.New("generator: no record store configured")
	}
	res, err := e.generate(ctx, environmentID, g)
	if err != nil {
		return nil, err
	}

	var (
		inserts  []catalog.Record
		patches  []catalog.Patch
		insertAt []int
	)
	for i, out := range res.Outputs {
		if out.UpdateExistingID != "" {
			patches = append(patches, catalog.Patch{RecordID: out.UpdateExistingID, Data: out.Data})
			continue
		}
		app, component, _ := catalog.ParseID(out.SchemaID)
		inserts = append(inserts, catalog.Record{
			App:           app,
			Component:     component,
			EnvironmentID: environmentID,
			Data:          out.Data,
		})
		insertAt = append(insertAt, i)
	}

	ids, err := e.store.Persist(ctx, environmentID, inserts, patches)
	if err != nil {
		return nil, fmt.Errorf("generator: persisting %d records: %w", len(inserts)+len(patches), err)
	}
	for j, id := range ids {
		if j < len(insertAt) {
			res.Outputs[insertAt[j]].RecordID = id
		}
	}
	res.Inserted = ids
	for _, p := range patches {
		res.Patched = append(res.Patched, p.RecordID)
	}
	e.metrics.RecordsPersisted(len(ids), len(patches))

	slog.Info("generator: persisted", "environment_id", environmentID,
		"inserted", len(ids), "patched", len(patches))
	return res, nil
}

// Generate produces an output for every node without persisting. Waves
// run in sequence; nodes within a wave run in parallel. The first failing
// node cancels the rest and its error is returned.
func (e *Executor) Generate(ctx context.Context, g *dag.Graph) (*Result, error) {
	return e.generate(ctx, "", g)
}

// generate runs Generate with update targets scoped to environmentID when
// it is set.
func (e *Executor) generate(ctx context.Context, environmentID string, g *dag.Graph) (*Result, error) {
	waves, err := g.GenerationOrder()
	if err != nil {
		return nil, err
	}

	res := &Result{Waves: make([][]string, len(waves))}
	for i, w := range waves {
		for _, n := range w {
			res.Waves[i] = append(res.Waves[i], n.ID)
		}
	}

	mappings := edgeMappings(g)
	outputs := make(map[string]map[string]any, g.Len())
	start := time.Now()

	for wi, wave := range waves {
		if err := e.runWave(ctx, environmentID, g, wave, mappings, outputs); err != nil {
			return nil, fmt.Errorf("generator: wave %d: %w", wi, err)
		}
		slog.Info("generator: wave complete",
			"wave", fmt.Sprintf("%d/%d", wi+1, len(waves)),
			"nodes", len(wave),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}

	for _, w := range waves {
		for _, n := range w {
			out := Output{NodeID: n.ID, SchemaID: n.SchemaID, Data: outputs[n.ID]}
			if n.IsUpdate() {
				out.UpdateExistingID = *n.UpdateExistingID
			}
			res.Outputs = append(res.Outputs, out)
		}
	}
	return res, nil
}

// runWave generates the nodes of one wave under the concurrency limit and
// stores each output in outputs. Outputs of earlier waves are only read.
func (e *Executor) runWave(ctx context.Context, environmentID string, g *dag.Graph, wave []*dag.Node, mappings map[[2]string]map[string]string, outputs map[string]map[string]any) error {
	waveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, e.concurrency)
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	// Parent data is fixed for the whole wave, so it can be collected
	// before any goroutine starts writing.
	inputs := make(map[string][]parentInput, len(wave))
	for _, n := range wave {
		for _, pid := range g.Dependencies(n.ID) {
			inputs[n.ID] = append(inputs[n.ID], parentInput{
				id:      pid,
				data:    outputs[pid],
				mapping: mappings[[2]string{pid, n.ID}],
			})
		}
	}

	for _, n := range wave {
		wg.Add(1)
		go func(n *dag.Node) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-waveCtx.Done():
				fail(fmt.Errorf("node %s: %w", n.ID, waveCtx.Err()))
				return
			}

			nodeCtx, nodeCancel := context.WithTimeout(waveCtx, e.nodeTimeout)
			defer nodeCancel()

			nodeStart := time.Now()
			data, err := e.generateNode(nodeCtx, environmentID, g.Task, n, inputs[n.ID])
			e.metrics.NodeGenerated(err)
			if err != nil {
				slog.Warn("generator: node failed", "node", n.ID, "schema", n.SchemaID, "error", err)
				fail(fmt.Errorf("node %s: %w", n.ID, err))
				return
			}

			mu.Lock()
			outputs[n.ID] = data
			mu.Unlock()
			slog.Debug("generator: node generated", "node", n.ID, "schema", n.SchemaID,
				"elapsed", time.Since(nodeStart).Round(time.Millisecond))
		}(n)
	}

	wg.Wait()
	return firstErr
}

func (e *Executor) generateNode(ctx context.Context, environmentID, task string, n *dag.Node, parents []parentInput) (map[string]any, error) {
	var existing *catalog.Record
	if n.IsUpdate() {
		if e.store == nil {
			return nil, fmt.Errorf("update of %q needs a record store", *n.UpdateExistingID)
		}
		rec, err := e.store.GetRecord(ctx, *n.UpdateExistingID)
		if err != nil {
			return nil, fmt.Errorf("loading update target %q: %w", *n.UpdateExistingID, err)
		}
		if environmentID != "" && rec.EnvironmentID != environmentID {
			return nil, fmt.Errorf("loading update target %q: %w", *n.UpdateExistingID, catalog.ErrNotFound)
		}
		existing = rec
	}

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			llm.System(nodeSystemPrompt),
			llm.User(buildNodePrompt(task, n, parents, existing)),
		},
		ResponseFormat: llm.FormatJSONObject,
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	return decodeObject(resp.Content)
}

// decodeObject parses a JSON object reply.
func decodeObject(content string) (map[string]any, error) {
	obj, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(obj), &data); err != nil {
		return nil, fmt.Errorf("decoding generated object: %w", err)
	}
	return data, nil
}

// edgeMappings indexes advisory field mappings by (source, target). Later
// edges for the same pair add to earlier ones.
func edgeMappings(g *dag.Graph) map[[2]string]map[string]string {
	out := make(map[[2]string]map[string]string)
	for _, e := range g.Edges() {
		if len(e.Mapping) == 0 {
			continue
		}
		key := [2]string{e.Source, e.Target}
		if out[key] == nil {
			out[key] = make(map[string]string, len(e.Mapping))
		}
		for k, v := range e.Mapping {
			out[key][k] = v
		}
	}
	return out
}
