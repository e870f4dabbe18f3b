// Package tasks loads agent task lists from files for the planners.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoMatches is returned when a pattern expands to no files.
var ErrNoMatches = errors.New("tasks: no files match pattern")

// Loader reads the tasks of one file format.
type Loader interface {
	Load(ctx context.Context, path string) ([]string, error)
	SupportedFormats() []string
}

// Registry maps file extensions (without the dot) to loaders.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry returns a registry with the built-in loaders.
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]Loader)}
	for _, l := range []Loader{&TextLoader{}, &JSONLoader{}, &YAMLLoader{}, &XLSXLoader{}, &PDFLoader{}} {
		for _, f := range l.SupportedFormats() {
			r.loaders[f] = l
		}
	}
	return r
}

// Get returns the loader for format.
func (r *Registry) Get(format string) (Loader, error) {
	l, ok := r.loaders[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("no task loader for format: %s", format)
	}
	return l, nil
}

// Register adds or replaces the loader for format.
func (r *Registry) Register(format string, l Loader) {
	r.loaders[strings.ToLower(format)] = l
}

// LoadFile reads the tasks of a single file, picking the loader by
// extension.
func (r *Registry) LoadFile(ctx context.Context, path string) ([]string, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	l, err := r.Get(ext)
	if err != nil {
		return nil, err
	}
	out, err := l.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return out, nil
}

// LoadAll expands each pattern (doublestar globs, "**" included) and
// concatenates the tasks of every matched file, by pattern then by sorted
// path.
// Plain paths are loaded as-is.
func (r *Registry) LoadAll(ctx context.Context, patterns []string) ([]string, error) {
	var out []string
	for _, pattern := range patterns {
		paths, err := expand(pattern)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			got, err := r.LoadFile(ctx, p)
			if err != nil {
				return nil, err
			}
			out = append(out, got...)
		}
	}
	return out, nil
}

func expand(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		if _, err := os.Stat(pattern); err != nil {
			return nil, fmt.Errorf("task file %s: %w", pattern, err)
		}
		return []string{pattern}, nil
	}
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob error: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatches, pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// ParseArg interprets a command-line or request task argument: a JSON
// array of strings, or else one task.
func ParseArg(arg string) []string {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil
	}
	if strings.HasPrefix(arg, "[") {
		var list []string
		if err := json.Unmarshal([]byte(arg), &list); err == nil {
			return clean(list)
		}
	}
	return []string{arg}
}

// clean trims entries and drops empty ones.
func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
