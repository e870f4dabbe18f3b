package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/gosynth"
	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
	"github.com/brunobiangulo/gosynth/tasks"
)

// app holds the global flags and how to build an engine from them.
type app struct {
	configPath string
	logLevel   string
	envID      string

	newEngine func(ctx context.Context, cfg gosynth.Config) (gosynth.Engine, error)
}

func newApp() *app {
	return &app{
		newEngine: func(ctx context.Context, cfg gosynth.Config) (gosynth.Engine, error) {
			return gosynth.New(ctx, cfg)
		},
	}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Dependency-aware synthetic data for agent test environments",
		Long: `synthgen turns agent tasks into plans of synthetic data and generates
that data into an environment.

It provides:
- dag: the dependency graph one task needs
- plan: a shared world and scenes for many tasks
- generate / scenario: data generation into the environment store`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(cmd.ErrOrStderr(), a.logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file path (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&a.envID, "env", "e", os.Getenv("GOSYNTH_ENVIRONMENT_ID"), "Environment ID")

	cmd.AddCommand(a.dagCmd(), a.planCmd(), a.generateCmd(), a.scenarioCmd(), a.schemasCmd(), a.envCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	return cmd
}

func configureLogging(w io.Writer, logLevel string) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// engine loads the config and opens an engine. The caller closes it.
func (a *app) engine(ctx context.Context) (gosynth.Engine, error) {
	cfg := gosynth.DefaultConfig()
	if a.configPath != "" {
		var err error
		if cfg, err = gosynth.LoadConfig(a.configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return a.newEngine(ctx, cfg)
}

func (a *app) requireEnv() error {
	if a.envID == "" {
		return fmt.Errorf("an environment is required (--env or GOSYNTH_ENVIRONMENT_ID)")
	}
	return nil
}

func (a *app) dagCmd() *cobra.Command {
	var mermaid bool
	cmd := &cobra.Command{
		Use:   "dag <task>",
		Short: "Build the generation DAG for one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireEnv(); err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.BuildDAG(ctx, a.envID, args[0])
			if err != nil {
				return err
			}
			if mermaid {
				fmt.Fprintln(cmd.OutOrStdout(), res.Mermaid)
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&mermaid, "mermaid", false, "Print only the Mermaid diagram")
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	var (
		files    []string
		generate bool
	)
	cmd := &cobra.Command{
		Use:   "plan [task...]",
		Short: "Plan a coherent world and scenes for many tasks",
		Long: `Plan a coherent world and scenes for many tasks and save the world on the
environment. Each argument is a task or a JSON array of tasks; --file adds
tasks from .txt, .md, .json, .yaml, .xlsx or .pdf files (globs allowed).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireEnv(); err != nil {
				return err
			}
			ctx := cmd.Context()
			list, err := collectTasks(ctx, args, files)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				return fmt.Errorf("no tasks given")
			}

			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			plan, err := e.SetupEnvironment(ctx, a.envID, list)
			if err != nil {
				return err
			}
			if !generate {
				return writeJSON(cmd.OutOrStdout(), plan)
			}
			res, err := e.GeneratePlan(ctx, a.envID, plan)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"plan": plan, "generated": res})
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Task file or glob (repeatable)")
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate the planned data after saving the world")
	return cmd
}

// collectTasks merges argument tasks with the tasks of files.
func collectTasks(ctx context.Context, args, files []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		out = append(out, tasks.ParseArg(arg)...)
	}
	if len(files) > 0 {
		loaded, err := tasks.NewRegistry().LoadAll(ctx, files)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}
	return out, nil
}

func (a *app) generateCmd() *cobra.Command {
	var dagFile string
	cmd := &cobra.Command{
		Use:   "generate [task]",
		Short: "Generate data for a task, or for a saved DAG with --dag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireEnv(); err != nil {
				return err
			}
			if (dagFile == "") == (len(args) == 0) {
				return fmt.Errorf("give either a task or --dag")
			}
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if dagFile != "" {
				g, err := readDAG(dagFile)
				if err != nil {
					return err
				}
				res, err := e.GenerateDAG(ctx, a.envID, g)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			}
			res, err := e.GenerateFromTask(ctx, a.envID, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&dagFile, "dag", "", "DAG JSON file, as printed by the dag command")
	return cmd
}

func readDAG(path string) (*dag.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dag: %w", err)
	}
	var rec dag.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing dag %s: %w", path, err)
	}
	return dag.FromRecord(rec), nil
}

func (a *app) scenarioCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "scenario [text]",
		Short: "Generate data from a free-text scenario (two-stage pipeline)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireEnv(); err != nil {
				return err
			}
			var scenario string
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading scenario: %w", err)
				}
				scenario = string(data)
			case len(args) == 1:
				scenario = args[0]
			default:
				return fmt.Errorf("give a scenario or --file")
			}

			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.GenerateFromScenario(ctx, a.envID, scenario)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the scenario from a file")
	return cmd
}

func (a *app) schemasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Manage the schema catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>...",
		Short: "Import schemas from JSON or YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var refs []catalog.SchemaRef
			for _, path := range args {
				got, err := loadSchemaFile(path)
				if err != nil {
					return err
				}
				refs = append(refs, got...)
			}
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.ImportSchemas(ctx, refs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d schemas\n", n)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the schema catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			schemas, err := e.ListSchemas(ctx)
			if err != nil {
				return err
			}
			for _, s := range schemas {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.ID(), s.Description)
			}
			return nil
		},
	})
	return cmd
}

// loadSchemaFile reads a list of schemas, or {"schemas": [...]}, from a
// JSON or YAML file.
func loadSchemaFile(path string) ([]catalog.SchemaRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schemas: %w", err)
	}
	unmarshal := json.Unmarshal
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	}

	var refs []catalog.SchemaRef
	if err := unmarshal(data, &refs); err != nil {
		var doc struct {
			Schemas []catalog.SchemaRef `json:"schemas" yaml:"schemas"`
		}
		if err := unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing schemas %s: %w", path, err)
		}
		refs = doc.Schemas
	}
	for _, r := range refs {
		if r.App == "" || r.Component == "" {
			return nil, fmt.Errorf("schema in %s needs app and component_name", path)
		}
	}
	return refs, nil
}

func (a *app) envCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage environments",
	}

	var (
		name       string
		connectors []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an environment exposing the given connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			env, err := e.CreateEnvironment(ctx, name, connectors)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), env)
		},
	}
	create.Flags().StringVar(&name, "name", "", "Environment name")
	create.Flags().StringSliceVar(&connectors, "connector", nil, "Connected app (repeatable or comma-separated)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Show an environment and its world",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := a.envID
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" {
				return a.requireEnv()
			}
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			env, err := e.GetEnvironment(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), env)
		},
	})
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
