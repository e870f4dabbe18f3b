package planner

import (
	"regexp"
	"strings"
)

var (
	// reEntityID matches "(id: acme_corp)" declarations.
	reEntityID = regexp.MustCompile(`\(id:\s*([A-Za-z0-9_.-]+)\s*\)`)
	// reEntityName matches bold "**Acme Corp**" entity names.
	reEntityName = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
)

// WorldEntities returns the entity ids and bold names declared in a
// world narrative, in order of first appearance.
func WorldEntities(world string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range reEntityID.FindAllStringSubmatch(world, -1) {
		add(m[1])
	}
	for _, m := range reEntityName.FindAllStringSubmatch(world, -1) {
		add(m[1])
	}
	return out
}

// MissingEntities lists entities declared in prior that no longer appear
// anywhere in next. An empty prior yields nil.
func MissingEntities(prior, next string) []string {
	if strings.TrimSpace(prior) == "" {
		return nil
	}
	var missing []string
	for _, e := range WorldEntities(prior) {
		if !strings.Contains(next, e) {
			missing = append(missing, e)
		}
	}
	return missing
}
