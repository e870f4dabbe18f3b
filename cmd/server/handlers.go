package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brunobiangulo/gosynth"
	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
	"github.com/brunobiangulo/gosynth/planner"
	"github.com/brunobiangulo/gosynth/tasks"
)

type handler struct {
	engine gosynth.Engine
}

func newHandler(e gosynth.Engine) *handler {
	return &handler{engine: e}
}

// POST /dag
func (h *handler) handleDAG(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		EnvironmentID string `json:"environment_id"`
		Task          string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.EnvironmentID == "" || strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "environment_id and task are required")
		return
	}

	res, err := h.engine.BuildDAG(ctx, req.EnvironmentID, req.Task)
	if err != nil {
		h.fail(w, "dag", req.EnvironmentID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /environments
func (h *handler) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string   `json:"name"`
		Connectors []string `json:"connectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	env, err := h.engine.CreateEnvironment(r.Context(), req.Name, req.Connectors)
	if err != nil {
		h.fail(w, "create environment", "", err)
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

// GET /environments/{id}
func (h *handler) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	env, err := h.engine.GetEnvironment(r.Context(), id)
	if err != nil {
		h.fail(w, "get environment", id, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// POST /environments/{id}/setup
// Accepts {"tasks": [...]} or {"tasks": "<json array or single task>"}.
func (h *handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	id := r.PathValue("id")
	var req struct {
		Tasks json.RawMessage `json:"tasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	list, err := decodeTasks(req.Tasks)
	if err != nil || len(list) == 0 {
		writeError(w, http.StatusBadRequest, "tasks must be a non-empty list or string")
		return
	}

	plan, err := h.engine.SetupEnvironment(ctx, id, list)
	if err != nil {
		h.fail(w, "setup", id, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func decodeTasks(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return tasks.ParseArg(s), nil
}

// POST /environments/{id}/generate
// Exactly one of task, dag or plan selects what to generate.
func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Minute)
	defer cancel()

	id := r.PathValue("id")
	var req struct {
		Task string                   `json:"task,omitempty"`
		DAG  *dag.Record              `json:"dag,omitempty"`
		Plan *planner.EnvironmentPlan `json:"plan,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var set int
	for _, ok := range []bool{req.Task != "", req.DAG != nil, req.Plan != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		writeError(w, http.StatusBadRequest, "exactly one of task, dag or plan is required")
		return
	}

	var (
		res any
		err error
	)
	switch {
	case req.Task != "":
		res, err = h.engine.GenerateFromTask(ctx, id, req.Task)
	case req.DAG != nil:
		res, err = h.engine.GenerateDAG(ctx, id, dag.FromRecord(*req.DAG))
	default:
		res, err = h.engine.GeneratePlan(ctx, id, req.Plan)
	}
	if err != nil {
		h.fail(w, "generate", id, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /environments/{id}/scenario
func (h *handler) handleScenario(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Minute)
	defer cancel()

	id := r.PathValue("id")
	var req struct {
		Scenario string `json:"scenario"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Scenario) == "" {
		writeError(w, http.StatusBadRequest, "scenario is required")
		return
	}

	res, err := h.engine.GenerateFromScenario(ctx, id, req.Scenario)
	if err != nil {
		h.fail(w, "scenario", id, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /environments/{id}/records
func (h *handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.engine.GetEnvironment(r.Context(), id); err != nil {
		h.fail(w, "list records", id, err)
		return
	}
	records, err := h.engine.ListRecords(r.Context(), id)
	if err != nil {
		h.fail(w, "list records", id, err)
		return
	}
	if records == nil {
		records = []catalog.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// POST /schemas
// Accepts a JSON array of schemas or {"schemas": [...]}.
func (h *handler) handleImportSchemas(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var refs []catalog.SchemaRef
	if err := json.Unmarshal(raw, &refs); err != nil {
		var wrapped struct {
			Schemas []catalog.SchemaRef `json:"schemas"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			writeError(w, http.StatusBadRequest, "expected a list of schemas")
			return
		}
		refs = wrapped.Schemas
	}
	for _, ref := range refs {
		if ref.App == "" || ref.Component == "" {
			writeError(w, http.StatusBadRequest, "every schema needs app and component_name")
			return
		}
	}

	n, err := h.engine.ImportSchemas(r.Context(), refs)
	if err != nil {
		h.fail(w, "import schemas", "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// GET /schemas
func (h *handler) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.engine.ListSchemas(r.Context())
	if err != nil {
		h.fail(w, "list schemas", "", err)
		return
	}
	if schemas == nil {
		schemas = []catalog.SchemaRef{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": schemas})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// fail maps an engine error to a status. Client-facing errors carry their
// message; internal ones are logged and reported generically.
func (h *handler) fail(w http.ResponseWriter, op, environmentID string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" error", "environment_id", environmentID, "error", err)
		writeError(w, status, op+" failed")
		return
	}
	slog.Warn(op+" rejected", "environment_id", environmentID, "status", status, "error", err)
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, planner.ErrMalformedOutput),
		errors.Is(err, gosynth.ErrLLMRequestFailed):
		return http.StatusBadGateway
	case errors.Is(err, gosynth.ErrEnvironmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, gosynth.ErrNoConnectors),
		errors.Is(err, gosynth.ErrNoSchemas),
		errors.Is(err, planner.ErrEmptyTask),
		errors.Is(err, planner.ErrNoTasks),
		errors.Is(err, planner.ErrSchemaReference),
		errors.Is(err, dag.ErrCycle),
		errors.Is(err, dag.ErrDuplicateNode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, gosynth.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
