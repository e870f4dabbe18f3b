//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/brunobiangulo/gosynth/catalog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
	v, err := s.Version(context.Background())
	if err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("version = %d, want %d", v, len(migrations))
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()

	// Re-applying the world_markdown migration must not fail.
	if _, err := s.DB().Exec("DELETE FROM schema_version WHERE version = 2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("re-running migration 2: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Schema catalog
// ---------------------------------------------------------------------------

func seedSchemas(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, ref := range []catalog.SchemaRef{
		{App: "gmail", Component: "thread", Schema: map[string]any{"subject": "string"}, Description: "Email thread"},
		{App: "airtable", Component: "table", Schema: map[string]any{"name": "string"}},
		{App: "linear", Component: "projects", Schema: map[string]any{"name": "string"}},
	} {
		if err := s.UpsertSchema(ctx, ref); err != nil {
			t.Fatalf("upserting %s: %v", ref.ID(), err)
		}
	}
}

func TestFetchSchemas(t *testing.T) {
	s := newTestStore(t)
	seedSchemas(t, s)
	ctx := context.Background()

	got, err := s.FetchSchemas(ctx, []string{"gmail", "airtable", "slack"})
	if err != nil {
		t.Fatalf("fetching schemas: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(got))
	}
	if got[0].ID() != "airtable/table" || got[1].ID() != "gmail/thread" {
		t.Errorf("unexpected order: %s, %s", got[0].ID(), got[1].ID())
	}
	if got[1].Schema["subject"] != "string" || got[1].Description != "Email thread" {
		t.Errorf("unexpected gmail schema: %+v", got[1])
	}

	none, err := s.FetchSchemas(ctx, nil)
	if err != nil || len(none) != 0 {
		t.Errorf("expected no schemas for no apps, got %v, %v", none, err)
	}
}

func TestUpsertSchemaReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := catalog.SchemaRef{App: "gmail", Component: "thread", Schema: map[string]any{"v": 1.0}}
	if err := s.UpsertSchema(ctx, ref); err != nil {
		t.Fatal(err)
	}
	ref.Schema = map[string]any{"v": 2.0}
	ref.Description = "updated"
	if err := s.UpsertSchema(ctx, ref); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListSchemas(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Schema["v"] != 2.0 || all[0].Description != "updated" {
		t.Errorf("unexpected schemas after upsert: %+v", all)
	}

	if err := s.UpsertSchema(ctx, catalog.SchemaRef{App: "gmail"}); err == nil {
		t.Error("expected error for schema without component")
	}
}

// ---------------------------------------------------------------------------
// Environments
// ---------------------------------------------------------------------------

func TestEnvironmentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateEnvironment(ctx, catalog.Environment{Name: "demo", Connectors: []string{"gmail", "airtable"}})
	if err != nil {
		t.Fatalf("creating environment: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	env, err := s.GetEnvironment(ctx, id)
	if err != nil {
		t.Fatalf("getting environment: %v", err)
	}
	if env.Name != "demo" || !reflect.DeepEqual(env.Connectors, []string{"gmail", "airtable"}) {
		t.Errorf("unexpected environment: %+v", env)
	}
	if env.WorldMarkdown != "" {
		t.Errorf("expected empty world, got %q", env.WorldMarkdown)
	}

	if err := s.SaveWorld(ctx, id, "# World: Acme"); err != nil {
		t.Fatalf("saving world: %v", err)
	}
	env, _ = s.GetEnvironment(ctx, id)
	if env.WorldMarkdown != "# World: Acme" {
		t.Errorf("world = %q", env.WorldMarkdown)
	}
}

func TestEnvironmentNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetEnvironment(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetEnvironment: expected ErrNotFound, got %v", err)
	}
	if err := s.SaveWorld(ctx, "missing", "x"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("SaveWorld: expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func newEnv(t *testing.T, s *Store) string {
	t.Helper()
	id, err := s.CreateEnvironment(context.Background(), catalog.Environment{ID: "env1", Connectors: []string{"airtable", "gmail"}})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestPersistInsertsAndPatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := newEnv(t, s)

	ids, err := s.Persist(ctx, env, []catalog.Record{
		{App: "airtable", Component: "table", Data: map[string]any{
			"name": "Customers", "records": []any{"acme"}, "fields": []any{"Name"},
		}},
		{ID: "fixed", App: "gmail", Component: "thread", Data: map[string]any{"subject": "Hi"}},
	}, nil)
	if err != nil {
		t.Fatalf("persisting inserts: %v", err)
	}
	if len(ids) != 2 || ids[1] != "fixed" || ids[0] == "" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if _, err := s.Persist(ctx, env, nil, []catalog.Patch{
		{RecordID: ids[0], Data: map[string]any{"records": []any{"beta"}, "description": "All customers"}},
	}); err != nil {
		t.Fatalf("persisting patch: %v", err)
	}

	rec, err := s.GetRecord(ctx, ids[0])
	if err != nil {
		t.Fatalf("getting record: %v", err)
	}
	if !reflect.DeepEqual(rec.Data["records"], []any{"acme", "beta"}) {
		t.Errorf("records not appended: %v", rec.Data["records"])
	}
	if rec.Data["name"] != "Customers" || rec.Data["description"] != "All customers" {
		t.Errorf("unexpected merged data: %v", rec.Data)
	}
	if rec.EnvironmentID != env {
		t.Errorf("environment = %q", rec.EnvironmentID)
	}

	all, err := s.ListRecords(ctx, env)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListRecords: %d records, err %v", len(all), err)
	}
}

func TestPersistIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := newEnv(t, s)

	_, err := s.Persist(ctx, env,
		[]catalog.Record{{App: "gmail", Component: "thread", Data: map[string]any{"subject": "x"}}},
		[]catalog.Patch{{RecordID: "does-not-exist", Data: map[string]any{"a": 1}}})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := s.ListRecords(ctx, env)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected rollback, found %d records", len(all))
	}
}

func TestPersistPatchStaysInEnvironment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	envA := newEnv(t, s)
	envB, err := s.CreateEnvironment(ctx, catalog.Environment{ID: "env2", Connectors: []string{"airtable"}})
	if err != nil {
		t.Fatal(err)
	}

	ids, err := s.Persist(ctx, envB, []catalog.Record{
		{App: "airtable", Component: "table", Data: map[string]any{"name": "B's table"}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Persist(ctx, envA, nil, []catalog.Patch{
		{RecordID: ids[0], Data: map[string]any{"name": "written by env A"}},
	})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec, err := s.GetRecord(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if rec.Data["name"] != "B's table" {
		t.Errorf("record of another environment was patched: %v", rec.Data)
	}
}

func TestFetchExistingDataStripsRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := newEnv(t, s)

	if _, err := s.Persist(ctx, env, []catalog.Record{
		{App: "airtable", Component: "table", Data: map[string]any{"name": "Deals", "records": []any{1, 2, 3}}},
		{App: "gmail", Component: "thread", Data: map[string]any{"subject": "Hello"}},
	}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchExistingData(ctx, env, []string{"airtable"})
	if err != nil {
		t.Fatalf("fetching existing data: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if _, ok := got[0].Data["records"]; ok {
		t.Error("records array should be stripped")
	}
	if got[0].DisplayName() != "Deals" {
		t.Errorf("display name = %q", got[0].DisplayName())
	}

	// The stored record keeps its records.
	full, _ := s.GetRecord(ctx, got[0].ID)
	if _, ok := full.Data["records"]; !ok {
		t.Error("stored record lost its records")
	}
}

func TestGetRecordNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRecord(context.Background(), "nope"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Run log
// ---------------------------------------------------------------------------

func TestLogRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := newEnv(t, s)

	for _, r := range []catalog.Run{
		{EnvironmentID: env, Kind: catalog.RunDAG, Model: "gpt-4o", Input: "task a", Output: "{}", Status: "ok", ElapsedMs: 12},
		{EnvironmentID: env, Kind: catalog.RunSetup, Input: "task b", Status: "error", Error: "cycle detected"},
		{Kind: catalog.RunDAG, Input: "no env", Status: "ok"},
	} {
		if err := s.LogRun(ctx, r); err != nil {
			t.Fatalf("logging run: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, env, 10)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs for env, got %d", len(runs))
	}
	if runs[0].Kind != catalog.RunSetup || runs[0].Error != "cycle detected" {
		t.Errorf("expected newest first, got %+v", runs[0])
	}
	if runs[1].Model != "gpt-4o" || runs[1].ElapsedMs != 12 {
		t.Errorf("unexpected run: %+v", runs[1])
	}

	all, _ := s.ListRuns(ctx, "", 0)
	if len(all) != 3 {
		t.Errorf("expected 3 runs overall, got %d", len(all))
	}
}
