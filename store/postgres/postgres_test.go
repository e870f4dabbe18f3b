package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/gosynth/catalog"
)

func TestDSNFromEnv(t *testing.T) {
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "6543")
	t.Setenv("PGUSER", "synth")
	t.Setenv("PGDATABASE", "synthdb")
	t.Setenv("PGPASSWORD", "")
	t.Setenv("PGSSLMODE", "")

	assert.Equal(t, "host=db.internal port=6543 user=synth dbname=synthdb sslmode=disable", DSNFromEnv())

	t.Setenv("PGPASSWORD", "secret")
	assert.True(t, strings.Contains(DSNFromEnv(), "password=secret"))
}

// newTestStore connects to GOSYNTH_TEST_DATABASE_URL or skips.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GOSYNTH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GOSYNTH_TEST_DATABASE_URL not set")
	}
	s, err := New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	app := "app_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	require.NoError(t, s.UpsertSchema(ctx, catalog.SchemaRef{
		App: app, Component: "table", Schema: map[string]any{"name": "string"}, Description: "tables",
	}))
	schemas, err := s.FetchSchemas(ctx, []string{app})
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "tables", schemas[0].Description)

	envID, err := s.CreateEnvironment(ctx, catalog.Environment{Name: "pg", Connectors: []string{app}})
	require.NoError(t, err)
	require.NoError(t, s.SaveWorld(ctx, envID, "# World"))

	env, err := s.GetEnvironment(ctx, envID)
	require.NoError(t, err)
	assert.Equal(t, []string{app}, env.Connectors)
	assert.Equal(t, "# World", env.WorldMarkdown)

	ids, err := s.Persist(ctx, envID, []catalog.Record{
		{App: app, Component: "table", Data: map[string]any{"name": "Deals", "records": []any{"a"}}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	_, err = s.Persist(ctx, envID, nil, []catalog.Patch{{RecordID: ids[0], Data: map[string]any{"records": []any{"b"}}}})
	require.NoError(t, err)

	rec, err := s.GetRecord(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, rec.Data["records"])

	otherID, err := s.CreateEnvironment(ctx, catalog.Environment{Name: "pg-other", Connectors: []string{app}})
	require.NoError(t, err)
	_, err = s.Persist(ctx, otherID, nil, []catalog.Patch{{RecordID: ids[0], Data: map[string]any{"name": "other"}}})
	assert.True(t, errors.Is(err, catalog.ErrNotFound))

	existing, err := s.FetchExistingData(ctx, envID, []string{app})
	require.NoError(t, err)
	require.Len(t, existing, 1)
	assert.NotContains(t, existing[0].Data, "records")

	_, err = s.GetEnvironment(ctx, "missing-"+app)
	assert.True(t, errors.Is(err, catalog.ErrNotFound))

	require.NoError(t, s.LogRun(ctx, catalog.Run{EnvironmentID: envID, Kind: catalog.RunDAG, Input: "t", Status: "ok"}))
}
