package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/gosynth"
	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
	"github.com/brunobiangulo/gosynth/generator"
	"github.com/brunobiangulo/gosynth/planner"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	envs      map[string]*catalog.Environment
	schemas   []catalog.SchemaRef
	buildErr  error
	lastTasks []string
	lastGraph *dag.Graph
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{envs: map[string]*catalog.Environment{
		"env-1": {ID: "env-1", Name: "demo", Connectors: []string{"gmail"}},
	}}
}

func (f *fakeEngine) env(id string) (*catalog.Environment, error) {
	env, ok := f.envs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gosynth.ErrEnvironmentNotFound, id)
	}
	return env, nil
}

func (f *fakeEngine) BuildDAG(_ context.Context, envID, task string) (*gosynth.DAGResult, error) {
	if _, err := f.env(envID); err != nil {
		return nil, err
	}
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	g := dag.New(task)
	g.AddNode(dag.Node{ID: "email", SchemaID: "gmail/thread"})
	return &gosynth.DAGResult{Record: g.ToRecord(), GenerationOrder: [][]string{{"email"}}, Mermaid: g.ToMermaid(), Graph: g}, nil
}

func (f *fakeEngine) SetupEnvironment(_ context.Context, envID string, tasks []string) (*planner.EnvironmentPlan, error) {
	if _, err := f.env(envID); err != nil {
		return nil, err
	}
	f.lastTasks = tasks
	return &planner.EnvironmentPlan{WorldMarkdown: "# World"}, nil
}

func (f *fakeEngine) GenerateDAG(_ context.Context, envID string, g *dag.Graph) (*generator.Result, error) {
	f.lastGraph = g
	return &generator.Result{Inserted: []string{"r1"}}, nil
}

func (f *fakeEngine) GeneratePlan(context.Context, string, *planner.EnvironmentPlan) (*generator.Result, error) {
	return &generator.Result{}, nil
}

func (f *fakeEngine) GenerateFromTask(context.Context, string, string) (*generator.Result, error) {
	return &generator.Result{Inserted: []string{"r1", "r2"}}, nil
}

func (f *fakeEngine) GenerateFromScenario(context.Context, string, string) (*gosynth.ScenarioResult, error) {
	return &gosynth.ScenarioResult{TwoStageResult: &generator.TwoStageResult{SchemasProcessed: 1}}, nil
}

func (f *fakeEngine) CreateEnvironment(_ context.Context, name string, connectors []string) (*catalog.Environment, error) {
	env := &catalog.Environment{ID: "env-new", Name: name, Connectors: connectors}
	f.envs[env.ID] = env
	return env, nil
}

func (f *fakeEngine) GetEnvironment(_ context.Context, id string) (*catalog.Environment, error) {
	return f.env(id)
}

func (f *fakeEngine) ImportSchemas(_ context.Context, refs []catalog.SchemaRef) (int, error) {
	f.schemas = append(f.schemas, refs...)
	return len(refs), nil
}

func (f *fakeEngine) ListSchemas(context.Context) ([]catalog.SchemaRef, error) { return f.schemas, nil }

func (f *fakeEngine) ListRecords(context.Context, string) ([]catalog.Record, error) { return nil, nil }

func (f *fakeEngine) Store() catalog.Store { return nil }

func (f *fakeEngine) Close() error { return nil }

func newTestServer(t *testing.T, engine gosynth.Engine, apiKey string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newServer(engine, prometheus.NewRegistry(), apiKey, ""))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestDAGEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "")

	status, body := do(t, srv, "POST", "/dag", `{"environment_id": "env-1", "task": "triage"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "triage", body["task"])
	assert.Contains(t, body, "generation_order")
	assert.Contains(t, body, "mermaid")
	assert.NotContains(t, body, "Graph")

	status, _ = do(t, srv, "POST", "/dag", `{"environment_id": "env-1"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, "POST", "/dag", `{"environment_id": "nope", "task": "x"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "environment not found")
}

func TestDAGEndpointErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{gosynth.ErrNoSchemas, http.StatusUnprocessableEntity},
		{&dag.CycleError{Path: []string{"a", "b", "a"}}, http.StatusUnprocessableEntity},
		{&planner.SchemaReferenceError{NodeID: "n", SchemaID: "x/y"}, http.StatusUnprocessableEntity},
		{&planner.MalformedOutputError{Stage: "dag", Err: fmt.Errorf("bad")}, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", gosynth.ErrLLMRequestFailed), http.StatusBadGateway},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			fake := newFakeEngine()
			fake.buildErr = tt.err
			srv := newTestServer(t, fake, "")
			status, body := do(t, srv, "POST", "/dag", `{"environment_id": "env-1", "task": "x"}`)
			assert.Equal(t, tt.want, status)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "dag failed", body["error"])
			}
		})
	}
}

func TestEnvironmentEndpoints(t *testing.T) {
	fake := newFakeEngine()
	srv := newTestServer(t, fake, "")

	status, body := do(t, srv, "POST", "/environments", `{"name": "new", "connectors": ["gmail", "airtable"]}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "env-new", body["id"])

	status, body = do(t, srv, "GET", "/environments/env-new", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "new", body["name"])

	status, body = do(t, srv, "GET", "/environments/env-1/records", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["records"])

	status, _ = do(t, srv, "GET", "/environments/missing/records", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSetupAcceptsTaskForms(t *testing.T) {
	fake := newFakeEngine()
	srv := newTestServer(t, fake, "")

	for body, want := range map[string][]string{
		`{"tasks": ["a", "b"]}`:       {"a", "b"},
		`{"tasks": "[\"c\", \"d\"]"}`: {"c", "d"},
		`{"tasks": "single task"}`:    {"single task"},
	} {
		status, resp := do(t, srv, "POST", "/environments/env-1/setup", body)
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, "# World", resp["world_markdown"])
		assert.Equal(t, want, fake.lastTasks)
	}

	status, _ := do(t, srv, "POST", "/environments/env-1/setup", `{"tasks": []}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGenerateEndpoint(t *testing.T) {
	fake := newFakeEngine()
	srv := newTestServer(t, fake, "")

	status, body := do(t, srv, "POST", "/environments/env-1/generate", `{"task": "triage"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["inserted"], 2)

	status, _ = do(t, srv, "POST", "/environments/env-1/generate",
		`{"dag": {"task": "t", "nodes": [{"id": "a", "schema_id": "gmail/thread"}], "edges": []}}`)
	assert.Equal(t, http.StatusOK, status)
	require.NotNil(t, fake.lastGraph)
	assert.Equal(t, []string{"a"}, fake.lastGraph.IDs())

	status, _ = do(t, srv, "POST", "/environments/env-1/generate", `{"task": "x", "plan": {}}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, "POST", "/environments/env-1/scenario", `{"scenario": "outage"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["schemas_processed"])
}

func TestSchemaEndpoints(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "")

	status, body := do(t, srv, "POST", "/schemas",
		`[{"app": "gmail", "component_name": "thread", "schema": {"subject": "string"}}]`)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["imported"])

	status, body = do(t, srv, "POST", "/schemas", `{"schemas": [{"app": "linear", "component_name": "projects"}]}`)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["imported"])

	status, _ = do(t, srv, "POST", "/schemas", `[{"app": "gmail"}]`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, "GET", "/schemas", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["schemas"], 2)
}

func TestAuthAndOpenPaths(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "secret")

	status, _ := do(t, srv, "GET", "/schemas", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, srv, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, status)

	req, _ := http.NewRequest("GET", srv.URL+"/schemas", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(data), "gosynth_http_requests_total"))
}
