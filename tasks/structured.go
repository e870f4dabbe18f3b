package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// taskDoc is the object form of a structured task file.
type taskDoc struct {
	Tasks []string `json:"tasks" yaml:"tasks"`
}

// JSONLoader reads a JSON array of strings or an object {"tasks": [...]}.
type JSONLoader struct{}

func (l *JSONLoader) SupportedFormats() []string { return []string{"json"} }

func (l *JSONLoader) Load(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading json file: %w", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return clean(list), nil
	}
	var doc taskDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing json tasks: %w", err)
	}
	return clean(doc.Tasks), nil
}

// YAMLLoader reads a YAML sequence of strings or a mapping with a tasks key.
type YAMLLoader struct{}

func (l *YAMLLoader) SupportedFormats() []string { return []string{"yaml", "yml"} }

func (l *YAMLLoader) Load(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading yaml file: %w", err)
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return clean(list), nil
	}
	var doc taskDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml tasks: %w", err)
	}
	return clean(doc.Tasks), nil
}
