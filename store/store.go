// Package store is the SQLite implementation of catalog.Store: the schema
// catalog, environments, generated records and the run log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/gosynth/catalog"
)

// Store wraps the SQLite database for all gosynth persistence.
type Store struct {
	db *sql.DB
}

var _ catalog.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Schema catalog ---

// UpsertSchema inserts or replaces the schema for (app, component).
func (s *Store) UpsertSchema(ctx context.Context, ref catalog.SchemaRef) error {
	if ref.App == "" || ref.Component == "" {
		return fmt.Errorf("schema needs app and component_name")
	}
	raw, err := json.Marshal(nonNilMap(ref.Schema))
	if err != nil {
		return fmt.Errorf("encoding schema %s: %w", ref.ID(), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schemas (app, component_name, schema, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(app, component_name) DO UPDATE SET
			schema = excluded.schema,
			description = excluded.description,
			updated_at = CURRENT_TIMESTAMP
	`, ref.App, ref.Component, string(raw), ref.Description)
	return err
}

// FetchSchemas returns the schemas of the given apps, ordered by app and
// component.
func (s *Store) FetchSchemas(ctx context.Context, apps []string) ([]catalog.SchemaRef, error) {
	if len(apps) == 0 {
		return nil, nil
	}
	args := make([]any, len(apps))
	for i, a := range apps {
		args[i] = a
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT app, component_name, schema, description FROM schemas
		WHERE app IN (?`+repeatPlaceholders(len(apps)-1)+`)
		ORDER BY app, component_name
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchemas(rows)
}

// ListSchemas returns every schema in the catalog.
func (s *Store) ListSchemas(ctx context.Context) ([]catalog.SchemaRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app, component_name, schema, description FROM schemas
		ORDER BY app, component_name
	`)
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
			raw  string
			desc sql.NullString
		)
		if err := rows.Scan(&ref.App, &ref.Component, &raw, &desc); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &ref.Schema); err != nil {
			return nil, fmt.Errorf("decoding schema %s: %w", ref.ID(), err)
		}
		ref.Description = desc.String
		out = append(out, ref)
	}
	return out, rows.Err()
}

// --- Environments ---

// CreateEnvironment stores env and returns its id. An empty env.ID is
// replaced by a new UUID.
func (s *Store) CreateEnvironment(ctx context.Context, env catalog.Environment) (string, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	connectors, err := json.Marshal(nonNilSlice(env.Connectors))
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO environments (id, name, connectors, world_markdown) VALUES (?, ?, ?, ?)
	`, env.ID, env.Name, string(connectors), nullString(env.WorldMarkdown))
	if err != nil {
		return "", err
	}
	return env.ID, nil
}

// GetEnvironment returns the environment with id, or catalog.ErrNotFound.
func (s *Store) GetEnvironment(ctx context.Context, id string) (*catalog.Environment, error) {
	var (
		env        catalog.Environment
		connectors string
		world      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, connectors, world_markdown, created_at, updated_at
		FROM environments WHERE id = ?
	`, id).Scan(&env.ID, &env.Name, &connectors, &world, &env.CreatedAt, &env.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(connectors), &env.Connectors); err != nil {
		return nil, fmt.Errorf("decoding connectors of %s: %w", id, err)
	}
	env.WorldMarkdown = world.String
	return &env, nil
}

// SaveWorld replaces the world narrative of an environment.
func (s *Store) SaveWorld(ctx context.Context, id, worldMarkdown string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE environments SET world_markdown = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, worldMarkdown, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %s: %w", id, catalog.ErrNotFound)
	}
	return nil
}

// --- Generated records ---

const recordColumns = "id, app, component_name, environment_id, json_data, created_at, updated_at"

func scanRecord(sc interface{ Scan(...any) error }) (catalog.Record, error) {
	var (
		r   catalog.Record
		raw string
	)
	if err := sc.Scan(&r.ID, &r.App, &r.Component, &r.EnvironmentID, &raw, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(raw), &r.Data); err != nil {
		return r, fmt.Errorf("decoding record %s: %w", r.ID, err)
	}
	return r, nil
}

// GetRecord returns the record with id, or catalog.ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, id string) (*catalog.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM artificial_data WHERE id = ?", id))
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
		"SELECT "+recordColumns+" FROM artificial_data WHERE environment_id = ? ORDER BY created_at, rowid",
		environmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchExistingData returns the environment's records for apps, with large
// substructures stripped from the data.
func (s *Store) FetchExistingData(ctx context.Context, environmentID string, apps []string) ([]catalog.Record, error) {
	if len(apps) == 0 {
		return nil, nil
	}
	args := []any{environmentID}
	for _, a := range apps {
		args = append(args, a)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM artificial_data
		WHERE environment_id = ? AND app IN (?`+repeatPlaceholders(len(apps)-1)+`)
		ORDER BY created_at, rowid
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		r.Data = catalog.Strip(r.Data)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Persist inserts new records and merges patches into existing ones in a
// single transaction. Inserted ids are returned in input order.
func (s *Store) Persist(ctx context.Context, environmentID string, inserts []catalog.Record, patches []catalog.Patch) ([]string, error) {
	ids := make([]string, 0, len(inserts))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO artificial_data (id, app, component_name, environment_id, json_data)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range inserts {
			id := r.ID
			if id == "" {
				id = uuid.NewString()
			}
			raw, err := json.Marshal(nonNilMap(r.Data))
			if err != nil {
				return fmt.Errorf("encoding %s record: %w", r.SchemaID(), err)
			}
			if _, err := stmt.ExecContext(ctx, id, r.App, r.Component, environmentID, string(raw)); err != nil {
				return fmt.Errorf("inserting %s record: %w", r.SchemaID(), err)
			}
			ids = append(ids, id)
		}

		for _, p := range patches {
			var raw string
			err := tx.QueryRowContext(ctx,
				"SELECT json_data FROM artificial_data WHERE id = ? AND environment_id = ?",
				p.RecordID, environmentID).Scan(&raw)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("record %s: %w", p.RecordID, catalog.ErrNotFound)
			}
			if err != nil {
				return err
			}
			var base map[string]any
			if err := json.Unmarshal([]byte(raw), &base); err != nil {
				return fmt.Errorf("decoding record %s: %w", p.RecordID, err)
			}
			merged, err := json.Marshal(catalog.Merge(base, p.Data))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE artificial_data SET json_data = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND environment_id = ?
			`, string(merged), p.RecordID, environmentID); err != nil {
				return fmt.Errorf("patching record %s: %w", p.RecordID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// --- Run log ---

// LogRun appends an audit entry. An empty run.ID is replaced by a UUID.
func (s *Store) LogRun(ctx context.Context, run catalog.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_log (id, environment_id, kind, model, input, output, status, error, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, nullString(run.EnvironmentID), run.Kind, run.Model, run.Input,
		run.Output, run.Status, nullString(run.Error), run.ElapsedMs)
	return err
}

// ListRuns returns the most recent runs of an environment, newest first.
// An empty environmentID lists runs across all environments.
func (s *Store) ListRuns(ctx context.Context, environmentID string, limit int) ([]catalog.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, environment_id, kind, model, input, output, status, error, elapsed_ms, created_at FROM run_log`
	var args []any
	if environmentID != "" {
		query += " WHERE environment_id = ?"
		args = append(args, environmentID)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Run
	for rows.Next() {
		var (
			r                          catalog.Run
			env, model, output, errMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &env, &r.Kind, &model, &r.Input, &output, &r.Status, &errMsg, &r.ElapsedMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.EnvironmentID, r.Model, r.Output, r.Error = env.String, model.String, output.String, errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	return strings.Repeat(", ?", n)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
