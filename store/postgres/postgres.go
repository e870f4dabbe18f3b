// Package postgres is a PostgreSQL implementation of catalog.Store, for
// deployments that share the schema catalog and generated data with other
// services.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brunobiangulo/gosynth/catalog"
)

// Store is a catalog.Store backed by Postgres.
type Store struct {
	db *sql.DB
}

var _ catalog.Store = (*Store)(nil)

// DSNFromEnv builds a connection string from the standard PG* variables.
func DSNFromEnv() string {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "gosynth")
	dbname := getEnv("PGDATABASE", "gosynth")
	sslmode := getEnv("PGSSLMODE", "disable")
	password := os.Getenv("PGPASSWORD")

	if password != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		host, port, user, dbname, sslmode)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// New connects to dsn (or DSNFromEnv when empty) and creates the tables.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DSNFromEnv()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schemas (
			app            TEXT NOT NULL,
			component_name TEXT NOT NULL,
			schema         JSONB NOT NULL,
			description    TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (app, component_name)
		);
		CREATE TABLE IF NOT EXISTS environments (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL DEFAULT '',
			connectors     JSONB NOT NULL DEFAULT '[]',
			world_markdown TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		ALTER TABLE environments ADD COLUMN IF NOT EXISTS world_markdown TEXT;
		CREATE TABLE IF NOT EXISTS artificial_data (
			id             TEXT PRIMARY KEY,
			app            TEXT NOT NULL,
			component_name TEXT NOT NULL,
			environment_id TEXT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
			json_data      JSONB NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		);
		CREATE TABLE IF NOT EXISTS run_log (
			id             TEXT PRIMARY KEY,
			environment_id TEXT,
			kind           TEXT NOT NULL,
			model          TEXT,
			input          TEXT NOT NULL,
			output         TEXT,
			status         TEXT NOT NULL,
			error          TEXT,
			elapsed_ms     BIGINT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		);
		CREATE INDEX IF NOT EXISTS idx_data_env_app ON artificial_data(environment_id, app);
	`)
	return err
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// UpsertSchema inserts or replaces the schema for (app, component).
func (s *Store) UpsertSchema(ctx context.Context, ref catalog.SchemaRef) error {
	if ref.App == "" || ref.Component == "" {
		return fmt.Errorf("schema needs app and component_name")
	}
	if ref.Schema == nil {
		ref.Schema = map[string]any{}
	}
	raw, err := json.Marshal(ref.Schema)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schemas (app, component_name, schema, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (app, component_name) DO UPDATE SET
			schema = EXCLUDED.schema,
			description = EXCLUDED.description,
			updated_at = now()
	`, ref.App, ref.Component, raw, ref.Description)
	return err
}

// FetchSchemas returns the schemas of the given apps.
func (s *Store) FetchSchemas(ctx context.Context, apps []string) ([]catalog.SchemaRef, error) {
	if len(apps) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT app, component_name, schema, description FROM schemas
		WHERE app = ANY($1) ORDER BY app, component_name
	`, pq.Array(apps))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchemas(rows)
}

// ListSchemas returns the whole catalog.
func (s *Store) ListSchemas(ctx context.Context) ([]catalog.SchemaRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT app, component_name, schema, description FROM schemas ORDER BY app, component_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchemas(rows)
}

func scanSchemas(rows *sql.Rows) ([]catalog.SchemaRef, error) {
	var out []catalog.SchemaRef
	for rows.Next() {
		var (
			ref  catalog.SchemaRef
			raw  []byte
			desc sql.NullString
		)
		if err := rows.Scan(&ref.App, &ref.Component, &raw, &desc); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &ref.Schema); err != nil {
			return nil, fmt.Errorf("decoding schema %s: %w", ref.ID(), err)
		}
		ref.Description = desc.String
		out = append(out, ref)
	}
	return out, rows.Err()
}

// CreateEnvironment stores env, assigning a UUID when env.ID is empty.
func (s *Store) CreateEnvironment(ctx context.Context, env catalog.Environment) (string, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Connectors == nil {
		env.Connectors = []string{}
	}
	connectors, err := json.Marshal(env.Connectors)
	if err != nil {
		return "", err
	}
	var world *string
	if env.WorldMarkdown != "" {
		world = &env.WorldMarkdown
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO environments (id, name, connectors, world_markdown) VALUES ($1, $2, $3, $4)`,
		env.ID, env.Name, connectors, world)
	if err != nil {
		return "", err
	}
	return env.ID, nil
}

// GetEnvironment returns the environment or catalog.ErrNotFound.
func (s *Store) GetEnvironment(ctx context.Context, id string) (*catalog.Environment, error) {
	var (
		env        catalog.Environment
		connectors []byte
		world      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, connectors, world_markdown, created_at, updated_at
		FROM environments WHERE id = $1
	`, id).Scan(&env.ID, &env.Name, &connectors, &world, &env.CreatedAt, &env.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(connectors, &env.Connectors); err != nil {
		return nil, fmt.Errorf("decoding connectors of %s: %w", id, err)
	}
	env.WorldMarkdown = world.String
	return &env, nil
}

// SaveWorld replaces the world narrative of an environment.
func (s *Store) SaveWorld(ctx context.Context, id, worldMarkdown string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE environments SET world_markdown = $1, updated_at = now() WHERE id = $2`,
		worldMarkdown, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %s: %w", id, catalog.ErrNotFound)
	}
	return nil
}

const recordColumns = "id, app, component_name, environment_id, json_data, created_at, updated_at"

func scanRecord(sc interface{ Scan(...any) error }) (catalog.Record, error) {
	var (
		r   catalog.Record
		raw []byte
	)
	if err := sc.Scan(&r.ID, &r.App, &r.Component, &r.EnvironmentID, &raw, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	if err := json.Unmarshal(raw, &r.Data); err != nil {
		return r, fmt.Errorf("decoding record %s: %w", r.ID, err)
	}
	return r, nil
}

func collectRecords(rows *sql.Rows, strip bool) ([]catalog.Record, error) {
	defer rows.Close()
	var out []catalog.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if strip {
			r.Data = catalog.Strip(r.Data)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRecord returns the record or catalog.ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, id string) (*catalog.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM artificial_data WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRecords returns every record of an environment in creation order.
func (s *Store) ListRecords(ctx context.Context, environmentID string) ([]catalog.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM artificial_data WHERE environment_id = $1 ORDER BY created_at, id`,
		environmentID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows, false)
}

// FetchExistingData returns the environment's records for apps with the
// "records" arrays stripped.
func (s *Store) FetchExistingData(ctx context.Context, environmentID string, apps []string) ([]catalog.Record, error) {
	if len(apps) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM artificial_data
		WHERE environment_id = $1 AND app = ANY($2)
		ORDER BY created_at, id
	`, environmentID, pq.Array(apps))
	if err != nil {
		return nil, err
	}
	return collectRecords(rows, true)
}

// Persist inserts and patches in one transaction. Patched rows are locked
// with SELECT ... FOR UPDATE while merging.
func (s *Store) Persist(ctx context.Context, environmentID string, inserts []catalog.Record, patches []catalog.Patch) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(inserts))
	for _, r := range inserts {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		data := r.Data
		if data == nil {
			data = map[string]any{}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s record: %w", r.SchemaID(), err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artificial_data (id, app, component_name, environment_id, json_data)
			VALUES ($1, $2, $3, $4, $5)
		`, id, r.App, r.Component, environmentID, raw); err != nil {
			return nil, fmt.Errorf("inserting %s record: %w", r.SchemaID(), err)
		}
		ids = append(ids, id)
	}

	for _, p := range patches {
		var raw []byte
		err := tx.QueryRowContext(ctx,
			`SELECT json_data FROM artificial_data WHERE id = $1 AND environment_id = $2 FOR UPDATE`,
			p.RecordID, environmentID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", p.RecordID, catalog.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		var base map[string]any
		if err := json.Unmarshal(raw, &base); err != nil {
			return nil, fmt.Errorf("decoding record %s: %w", p.RecordID, err)
		}
		merged, err := json.Marshal(catalog.Merge(base, p.Data))
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE artificial_data SET json_data = $1, updated_at = now() WHERE id = $2 AND environment_id = $3`,
			merged, p.RecordID, environmentID); err != nil {
			return nil, fmt.Errorf("patching record %s: %w", p.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// LogRun appends an audit entry.
func (s *Store) LogRun(ctx context.Context, run catalog.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	var envID, errMsg *string
	if run.EnvironmentID != "" {
		envID = &run.EnvironmentID
	}
	if run.Error != "" {
		errMsg = &run.Error
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_log (id, environment_id, kind, model, input, output, status, error, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, envID, run.Kind, run.Model, run.Input, run.Output, run.Status, errMsg, run.ElapsedMs)
	return err
}
