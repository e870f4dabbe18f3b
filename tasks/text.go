package tasks

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// TextLoader reads one task per line from .txt and .md files. Blank lines
// and markdown headings are skipped; list markers are removed.
type TextLoader struct{}

func (l *TextLoader) SupportedFormats() []string { return []string{"txt", "md"} }

var listMarker = regexp.MustCompile(`^(?:[-*+]\s+|\d+[.)]\s+)`)

func (l *TextLoader) Load(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	return splitLines(string(data)), nil
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
