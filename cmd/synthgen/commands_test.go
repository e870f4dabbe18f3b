package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := a.rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, newApp(), "version")
	require.NoError(t, err)
	assert.Equal(t, "synthgen version 0.1.0 (build: dev)\n", out)
}

func TestCommandsRequireEnvironment(t *testing.T) {
	t.Setenv("GOSYNTH_ENVIRONMENT_ID", "")
	for _, args := range [][]string{
		{"dag", "task"},
		{"plan", "task"},
		{"generate", "task"},
		{"scenario", "text"},
	} {
		_, err := execute(t, newApp(), args...)
		assert.ErrorContains(t, err, "an environment is required", "args %v", args)
	}
}

func TestGenerateArgsExclusive(t *testing.T) {
	_, err := execute(t, newApp(), "generate", "--env", "e1")
	assert.ErrorContains(t, err, "give either a task or --dag")

	_, err = execute(t, newApp(), "generate", "--env", "e1", "--dag", "x.json", "task")
	assert.ErrorContains(t, err, "give either a task or --dag")
}

func TestCollectTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.txt")
	require.NoError(t, os.WriteFile(path, []byte("- from file\n"), 0o644))

	got, err := collectTasks(context.Background(), []string{`["a", "b"]`, "c"}, []string{filepath.Join(dir, "*.txt")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "from file"}, got)
}

func TestLoadSchemaFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "schemas.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
schemas:
  - app: gmail
    component_name: thread
    description: Email thread
    schema:
      subject: string
      messages:
        type: array
`), 0o644))
	refs, err := loadSchemaFile(yamlPath)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "gmail/thread", refs[0].ID())
	assert.Equal(t, "array", refs[0].Schema["messages"].(map[string]any)["type"])

	jsonPath := filepath.Join(dir, "schemas.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"app": "linear", "component_name": "projects"}]`), 0o644))
	refs, err = loadSchemaFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "linear/projects", refs[0].ID())

	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`[{"app": "linear"}]`), 0o644))
	_, err = loadSchemaFile(badPath)
	assert.ErrorContains(t, err, "needs app and component_name")
}
