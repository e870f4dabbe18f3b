package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// codeBlockRe matches a markdown code fence around a reply.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON returns the JSON object carried by an LLM reply. It strips
// a surrounding markdown fence and any prose before the first '{' or
// after the last '}'. A reply whose JSON is a top-level array is rejected
// rather than mined for an inner object. The object itself is returned
// untouched: broken JSON stays broken and fails when decoded.
func ExtractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	if strings.HasPrefix(raw, "[") {
		return "", fmt.Errorf("response is a JSON array, want an object")
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}
