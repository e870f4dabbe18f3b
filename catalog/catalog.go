// Package catalog defines the schema catalog, environment and generated
// record types shared by the planners, the generation executor and the
// storage backends.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned by stores when a keyed lookup has no match.
var ErrNotFound = errors.New("catalog: not found")

// SchemaRef is one allowed (app, component) data shape.
type SchemaRef struct {
	App         string         `json:"app" yaml:"app"`
	Component   string         `json:"component_name" yaml:"component_name"`
	Schema      map[string]any `json:"schema" yaml:"schema"`
	Description string         `json:"description" yaml:"description"`
}

// ID returns the "app/component" identifier used in prompts and nodes.
func (s SchemaRef) ID() string {
	return s.App + "/" + s.Component
}

// ParseID splits an "app/component" identifier.
func ParseID(id string) (app, component string, ok bool) {
	app, component, ok = strings.Cut(id, "/")
	if !ok || app == "" || component == "" {
		return "", "", false
	}
	return app, component, true
}

// Set is an ordered lookup over the schemas supplied for one planning call.
type Set struct {
	order []string
	byID  map[string]SchemaRef
}

// NewSet indexes refs by ID. Later duplicates replace earlier ones.
func NewSet(refs []SchemaRef) *Set {
	s := &Set{byID: make(map[string]SchemaRef, len(refs))}
	for _, r := range refs {
		id := r.ID()
		if _, ok := s.byID[id]; !ok {
			s.order = append(s.order, id)
		}
		s.byID[id] = r
	}
	return s
}

// Lookup returns the schema registered under id.
func (s *Set) Lookup(id string) (SchemaRef, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Contains reports whether id is an allowed schema.
func (s *Set) Contains(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Len returns the number of distinct schemas.
func (s *Set) Len() int { return len(s.order) }

// IDs returns the schema ids in supply order.
func (s *Set) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// SortedIDs returns the schema ids sorted lexically.
func (s *Set) SortedIDs() []string {
	out := s.IDs()
	sort.Strings(out)
	return out
}

// Refs returns the schemas in supply order.
func (s *Set) Refs() []SchemaRef {
	out := make([]SchemaRef, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Environment is a test environment: the apps it exposes and the world
// narrative accumulated across planning calls.
type Environment struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Connectors    []string `json:"connectors"`
	WorldMarkdown string   `json:"world_markdown,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

// Record is one stored synthetic object.
type Record struct {
	ID            string         `json:"id"`
	App           string         `json:"app"`
	Component     string         `json:"component_name"`
	EnvironmentID string         `json:"environment_id,omitempty"`
	Data          map[string]any `json:"json_data"`
	CreatedAt     string         `json:"created_at,omitempty"`
	UpdatedAt     string         `json:"updated_at,omitempty"`
}

// SchemaID returns the record's "app/component" identifier.
func (r Record) SchemaID() string {
	return r.App + "/" + r.Component
}

// DisplayName picks a human label from the record's name, title or
// subject field.
func (r Record) DisplayName() string {
	for _, key := range []string{"name", "title", "subject"} {
		if v, ok := r.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return "unnamed"
}

// Patch is a merge of Data into the existing record RecordID.
type Patch struct {
	RecordID string         `json:"record_id"`
	Data     map[string]any `json:"data"`
}

// Run is an audit entry for one planning or generation call.
type Run struct {
	ID            string `json:"id"`
	EnvironmentID string `json:"environment_id,omitempty"`
	Kind          string `json:"kind"`
	Model         string `json:"model,omitempty"`
	Input         string `json:"input"`
	Output        string `json:"output,omitempty"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// Run kinds.
const (
	RunDAG      = "dag"
	RunScenario = "scenario"
	RunSetup    = "setup"
	RunGenerate = "generate"
)

// SchemaSource is the read side of the schema catalog.
type SchemaSource interface {
	FetchSchemas(ctx context.Context, apps []string) ([]SchemaRef, error)
}

// DataSource is the read side of the existing-data store.
type DataSource interface {
	FetchExistingData(ctx context.Context, environmentID string, apps []string) ([]Record, error)
}

// Store is the full persistence contract used by the engine. The sqlite
// and postgres packages both implement it.
type Store interface {
	SchemaSource
	DataSource

	UpsertSchema(ctx context.Context, ref SchemaRef) error
	ListSchemas(ctx context.Context) ([]SchemaRef, error)

	CreateEnvironment(ctx context.Context, env Environment) (string, error)
	GetEnvironment(ctx context.Context, id string) (*Environment, error)
	SaveWorld(ctx context.Context, id, worldMarkdown string) error

	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, environmentID string) ([]Record, error)
	// Persist inserts new records and applies patches atomically. It
	// returns the ids of the inserted records in input order.
	Persist(ctx context.Context, environmentID string, inserts []Record, patches []Patch) ([]string, error)

	LogRun(ctx context.Context, run Run) error
	Close() error
}
