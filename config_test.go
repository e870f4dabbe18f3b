package gosynth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/gosynth/catalog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, 4, cfg.GenerationConcurrency)
	assert.Equal(t, 10, cfg.ExistingLimit)
	assert.Equal(t, []string{"airtable/table"}, cfg.ExistingComponents)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "gosynth.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
store: postgres
database_url: postgres://localhost/synth
chat:
  provider: groq
  model: llama-3.3-70b-versatile
generation_concurrency: 8
existing_components: []
`), 0o644))
	cfg, err := LoadConfig(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "groq", cfg.Chat.Provider)
	assert.Equal(t, 8, cfg.GenerationConcurrency)
	assert.Empty(t, cfg.ExistingComponents)
	// Unset keys keep their defaults.
	assert.Equal(t, 10, cfg.ExistingLimit)

	jsonPath := filepath.Join(dir, "gosynth.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"db_path": "/tmp/x.db", "temperature": 0.2}`), 0o644))
	cfg, err = LoadConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.resolveDBPath())
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-9)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GOSYNTH_CHAT_MODEL", "gpt-4o-mini")
	t.Setenv("GOSYNTH_GENERATION_CONCURRENCY", "2")
	t.Setenv("GOSYNTH_EXISTING_COMPONENTS", "airtable/table, gmail/thread")
	t.Setenv("GOSYNTH_CHAT_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.Model)
	assert.Equal(t, 2, cfg.GenerationConcurrency)
	assert.Equal(t, []string{"airtable/table", "gmail/thread"}, cfg.ExistingComponents)
	assert.Equal(t, "sk-env", cfg.Chat.APIKey)

	t.Setenv("GOSYNTH_EXISTING_COMPONENTS", "*")
	cfg.ApplyEnv()
	assert.Empty(t, cfg.ExistingComponents)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store = "mongo"
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.Chat.Provider = ""
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
}

func TestResolveDBPath(t *testing.T) {
	cfg := Config{DBName: "synth", StorageDir: "local"}
	assert.Equal(t, "synth.db", cfg.resolveDBPath())

	cfg = Config{StorageDir: "home"}
	assert.Equal(t, "gosynth.db", filepath.Base(cfg.resolveDBPath()))
}

func TestFilterComponents(t *testing.T) {
	records := []catalog.Record{
		{ID: "1", App: "airtable", Component: "table"},
		{ID: "2", App: "gmail", Component: "thread"},
	}
	got := filterComponents(records, []string{"airtable/table"})
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
	assert.Len(t, filterComponents(records, nil), 2)
}
