package gosynth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gosynth engine.
type Config struct {
	// Store selects the persistence backend: "sqlite" (default) or "postgres".
	Store string `json:"store" yaml:"store"`

	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.gosynth/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.gosynth/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// DatabaseURL is the postgres DSN. Empty means the PG* variables.
	DatabaseURL string `json:"database_url" yaml:"database_url"`

	// LLM provider used for planning and generation.
	Chat LLMConfig `json:"chat" yaml:"chat"`

	// Planning
	Temperature   float64 `json:"temperature" yaml:"temperature"`
	ExistingLimit int     `json:"existing_limit" yaml:"existing_limit"` // records summarised per prompt (default 10)

	// ExistingComponents restricts the existing data shown to the planners
	// to these "app/component" ids. Empty means every component.
	ExistingComponents []string `json:"existing_components" yaml:"existing_components"`

	// Generation
	GenerationConcurrency int `json:"generation_concurrency" yaml:"generation_concurrency"` // Max parallel node generations per wave (default 4)
	NodeTimeoutSeconds    int `json:"node_timeout_seconds" yaml:"node_timeout_seconds"`

	// Events
	NATSURL       string `json:"nats_url" yaml:"nats_url"` // optional: publish lifecycle events
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, ollama, lmstudio, openrouter, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config for an OpenAI-backed local SQLite setup.
// Database is stored in ~/.gosynth/gosynth.db by default.
func DefaultConfig() Config {
	return Config{
		Store:      "sqlite",
		DBName:     "gosynth",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		ExistingLimit:         10,
		ExistingComponents:    []string{"airtable/table"},
		GenerationConcurrency: 4,
		NodeTimeoutSeconds:    120,
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GOSYNTH_* environment variables and falls
// back to the well-known provider key variables.
func (c *Config) ApplyEnv() {
	strs := map[string]*string{
		"GOSYNTH_STORE":          &c.Store,
		"GOSYNTH_DB_PATH":        &c.DBPath,
		"GOSYNTH_DATABASE_URL":   &c.DatabaseURL,
		"GOSYNTH_CHAT_PROVIDER":  &c.Chat.Provider,
		"GOSYNTH_CHAT_MODEL":     &c.Chat.Model,
		"GOSYNTH_CHAT_BASE_URL":  &c.Chat.BaseURL,
		"GOSYNTH_CHAT_API_KEY":   &c.Chat.APIKey,
		"GOSYNTH_NATS_URL":       &c.NATSURL,
		"GOSYNTH_SUBJECT_PREFIX": &c.SubjectPrefix,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v, err := strconv.Atoi(os.Getenv("GOSYNTH_GENERATION_CONCURRENCY")); err == nil && v > 0 {
		c.GenerationConcurrency = v
	}
	if v := os.Getenv("GOSYNTH_EXISTING_COMPONENTS"); v != "" {
		c.ExistingComponents = splitList(v)
	}

	if c.Chat.APIKey == "" {
		switch c.Chat.Provider {
		case "openai":
			c.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			c.Chat.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
}

// Validate reports configuration errors wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch c.Store {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.Chat.Provider == "" {
		return fmt.Errorf("%w: chat provider not set", ErrInvalidConfig)
	}
	if c.GenerationConcurrency < 0 || c.ExistingLimit < 0 || c.NodeTimeoutSeconds < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "gosynth"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".gosynth", name+".db")
	}
}

// splitList splits a comma-separated value, dropping blanks. "*" alone
// means no restriction.
func splitList(v string) []string {
	if strings.TrimSpace(v) == "*" {
		return []string{}
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
