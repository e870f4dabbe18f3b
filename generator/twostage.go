package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/llm"
	"github.com/brunobiangulo/gosynth/planner"
)

// Item is one object extracted by the two-stage pipeline.
type Item struct {
	App       string         `json:"app"`
	Component string         `json:"component_name"`
	Data      map[string]any `json:"data"`
}

// TwoStageResult is the outcome of one scenario run.
type TwoStageResult struct {
	RawLength        int      `json:"raw_data_length"`
	SchemasProcessed int      `json:"schemas_processed"`
	Generated        []Item   `json:"generated"`
	Skipped          []string `json:"skipped,omitempty"`
}

// Records converts the generated items into insertable records.
func (r *TwoStageResult) Records(environmentID string) []catalog.Record {
	out := make([]catalog.Record, 0, len(r.Generated))
	for _, it := range r.Generated {
		out = append(out, catalog.Record{
			App:           it.App,
			Component:     it.Component,
			EnvironmentID: environmentID,
			Data:          it.Data,
		})
	}
	return out
}

// TwoStage generates free-form data for a scenario, then extracts one
// JSON object per schema from it.
type TwoStage struct {
	chat          llm.Provider
	model         string
	existingLimit int
}

// NewTwoStage creates the pipeline. model may be empty to use the
// provider default.
func NewTwoStage(chat llm.Provider, model string) *TwoStage {
	return &TwoStage{chat: chat, model: model, existingLimit: 10}
}

// Generate runs both stages. A failed extraction skips that schema; a
// failed first stage fails the run.
func (t *TwoStage) Generate(ctx context.Context, scenario string, schemas []catalog.SchemaRef, existing []catalog.Record) (*TwoStageResult, error) {
	if len(schemas) == 0 {
		return nil, planner.ErrNoSchemas
	}

	start := time.Now()
	slog.Info("generator: stage 1 raw generation", "schemas", len(schemas))
	resp, err := t.chat.Chat(ctx, llm.ChatRequest{
		Model: t.model,
		Messages: []llm.Message{
			llm.System(rawSystemPrompt),
			llm.User(buildRawPrompt(scenario, schemas, existing, t.existingLimit)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generator: raw generation: %w", err)
	}
	raw := resp.Content
	slog.Info("generator: stage 1 complete", "chars", len(raw),
		"elapsed", time.Since(start).Round(time.Millisecond))

	res := &TwoStageResult{RawLength: len(raw), SchemasProcessed: len(schemas)}
	for _, s := range schemas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := t.extract(ctx, raw, scenario, s)
		if err != nil {
			slog.Error("generator: extraction failed", "schema", s.ID(), "error", err)
			res.Skipped = append(res.Skipped, s.ID())
			continue
		}
		if len(data) == 0 {
			res.Skipped = append(res.Skipped, s.ID())
			continue
		}
		res.Generated = append(res.Generated, Item{App: s.App, Component: s.Component, Data: data})
	}

	slog.Info("generator: stage 2 complete", "generated", len(res.Generated),
		"skipped", len(res.Skipped), "elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (t *TwoStage) extract(ctx context.Context, raw, scenario string, s catalog.SchemaRef) (map[string]any, error) {
	resp, err := t.chat.Chat(ctx, llm.ChatRequest{
		Model: t.model,
		Messages: []llm.Message{
			llm.System(extractSystemPrompt),
			llm.User(buildExtractPrompt(raw, scenario, s)),
		},
		ResponseFormat: llm.FormatJSONObject,
	})
	if err != nil {
		return nil, err
	}
	return decodeObject(resp.Content)
}
