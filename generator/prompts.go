package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/gosynth/catalog"
	"github.com/brunobiangulo/gosynth/dag"
)

const nodeSystemPrompt = `You are a synthetic data generator for agent test environments.
Produce ONE JSON object that matches the given schema structure exactly.
Use realistic values: proper names, valid email addresses, plausible dates and amounts.
No placeholders such as "Lorem ipsum" or "[INSERT]".
Return only the JSON object.`

// maxExistingChars bounds each existing-record excerpt in prompts.
const maxExistingChars = 200

func prettyJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// parentInput is one already-generated parent passed to a child prompt.
type parentInput struct {
	id      string
	data    map[string]any
	mapping map[string]string
}

// buildNodePrompt renders the user message for one graph node.
func buildNodePrompt(task string, n *dag.Node, parents []parentInput, existing *catalog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# TASK THE DATA SUPPORTS\n%s\n\n", task)
	fmt.Fprintf(&b, "# OBJECT TO GENERATE: %s (node %s)\n%s\n", n.SchemaID, n.ID, n.Instruction)

	if len(n.Context) > 0 {
		fmt.Fprintf(&b, "\n## CONTEXT\n%s\n", prettyJSON(n.Context))
	}

	fmt.Fprintf(&b, "\n## SCHEMA\n```json\n%s\n```\n", prettyJSON(n.Schema))

	if len(n.ReferenceExamples) > 0 {
		fmt.Fprintf(&b, "\n## REFERENCE EXAMPLES\n%s\n", prettyJSON(n.ReferenceExamples))
	}

	if len(parents) > 0 {
		b.WriteString("\n## UPSTREAM DATA (stay consistent with these objects)\n")
		for _, p := range parents {
			fmt.Fprintf(&b, "### %s\n%s\n", p.id, prettyJSON(p.data))
			if len(p.mapping) > 0 {
				fmt.Fprintf(&b, "Field mapping (upstream -> this object): %s\n", prettyJSON(p.mapping))
			}
		}
	}

	if existing != nil {
		b.WriteString("\n## EXISTING OBJECT TO EXTEND\n")
		b.WriteString("Return ONLY the new content to add. Arrays you return are appended, other fields overwrite.\n")
		fmt.Fprintf(&b, "%s\n", prettyJSON(catalog.Strip(existing.Data)))
	}
	return b.String()
}

const rawSystemPrompt = "You are a synthetic data generator. Create realistic, detailed test data."

const extractSystemPrompt = "You are a JSON extraction assistant. Extract and format data as valid JSON matching the provided schema exactly. Return ONLY valid JSON, nothing else."

// buildRawPrompt renders the stage-one prompt of the two-stage pipeline.
func buildRawPrompt(scenario string, schemas []catalog.SchemaRef, existing []catalog.Record, limit int) string {
	var b strings.Builder
	b.WriteString("# SYNTHETIC DATA GENERATION\n\nGenerate realistic test data for an agent testing environment.\n\n")
	fmt.Fprintf(&b, "## SCENARIO\n%s\n\n## SCHEMAS TO POPULATE\n", scenario)
	for _, s := range schemas {
		desc := s.Description
		if desc == "" {
			desc = "N/A"
		}
		fmt.Fprintf(&b, "\n### %s / %s\nDescription: %s\nSchema:\n```json\n%s\n```\n",
			s.App, s.Component, desc, prettyJSON(s.Schema))
	}

	if len(existing) > 0 {
		if len(existing) > limit {
			existing = existing[:limit]
		}
		b.WriteString("\n## EXISTING DATA\nMaintain consistency with these records:\n")
		for _, r := range existing {
			raw, _ := json.Marshal(r.Data)
			excerpt := string(raw)
			if len(excerpt) > maxExistingChars {
				excerpt = excerpt[:maxExistingChars]
			}
			fmt.Fprintf(&b, "- %s: %s...\n", r.SchemaID(), excerpt)
		}
	}

	b.WriteString(`
## INSTRUCTIONS
1. If the scenario contains a reference agent trace, generate data that enables the actions in the trace, including the specific entities and values it references.
2. Otherwise generate data that would realistically exist in the scenario, with consistent relationships between records.

## REQUIREMENTS
- Match each schema structure, including all required fields.
- Use realistic values.
- Keep records coherent across schemas (no orphan references).
- No placeholders.

## OUTPUT FORMAT
For each data object:
=== APP: [app] | COMPONENT: [component] ===
[field values matching the schema]

Generate complete data for ALL relevant schemas.`)
	return b.String()
}

// maxScenarioContext bounds the scenario excerpt in extraction prompts.
const maxScenarioContext = 500

// buildExtractPrompt renders the stage-two prompt for one schema.
func buildExtractPrompt(raw, scenario string, s catalog.SchemaRef) string {
	if len(scenario) > maxScenarioContext {
		scenario = scenario[:maxScenarioContext]
	}
	id := s.ID()
	return fmt.Sprintf(`Extract the data for %[1]s from the raw generated data below.

SCENARIO CONTEXT:
%[2]s

RAW GENERATED DATA:
%[3]s

Extract ONLY the data relevant to %[1]s.
Return a valid JSON object matching this exact schema structure:
%[4]s

Return ONLY the JSON object. If no relevant data exists, return an empty structure matching the schema.`,
		id, scenario, raw, prettyJSON(s.Schema))
}
