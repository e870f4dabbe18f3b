package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/gosynth/catalog"
)

// DefaultExistingLimit caps how many existing records are summarised in a
// prompt.
const DefaultExistingLimit = 10

// summarizeExisting renders one line per record:
//
//	- airtable/table: id="rec1" name="Customers"
//
// followed, when withFields is set and the record carries a "fields"
// entry, by an indented JSON line of those fields.
func summarizeExisting(records []catalog.Record, limit int, withFields bool) string {
	if limit <= 0 {
		limit = DefaultExistingLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}

	var b strings.Builder
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = "unknown"
		}
		fmt.Fprintf(&b, "- %s: id=%q name=%q\n", r.SchemaID(), id, r.DisplayName())
		if !withFields {
			continue
		}
		if fields, ok := r.Data["fields"]; ok {
			if raw, err := json.Marshal(fields); err == nil {
				fmt.Fprintf(&b, "  fields: %s\n", raw)
			}
		}
	}
	return b.String()
}

// schemaLines lists "- app/component: description" for each schema.
func schemaLines(set *catalog.Set) string {
	var b strings.Builder
	for _, ref := range set.Refs() {
		desc := ref.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&b, "- %s: %s\n", ref.ID(), desc)
	}
	return b.String()
}
