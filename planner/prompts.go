package planner

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/gosynth/catalog"
)

// dagSystemPrompt fixes the node/edge output contract for the builder.
const dagSystemPrompt = `You plan SYNTHETIC TEST DATA for evaluating AI agents.

Given a task an agent must complete, decide which data objects must already EXIST in the environment for the agent to do its work. You are not modelling the agent's steps; you are deciding what test data the agent will find.

INPUT: a task, the available schemas and any existing data.
OUTPUT: one JSON object with "nodes" (data objects to create) and "edges" (dependencies between them).

RULES:
1. Use ONLY schema ids from the AVAILABLE SCHEMAS list. Never invent types such as "analysis/step" or "workflow/decision".
2. One node is one data object (an email thread, a table, an issue).
3. Ask "what must exist for the agent to do this?", not "what does the agent do?".
4. node.instruction is a concrete directive for generating realistic content.
5. Source material (emails, messages) comes before data derived from it (CRM rows, tasks).
6. Do not create what the agent is expected to create itself.

EXAMPLE:
Task: "Find frustrated customer emails and create Linear issues for high-value ones"
- Must exist: frustrated customer emails (gmail/thread), a customer table with account values (airtable/table).
- The agent creates the Linear issues, so they are not preconditions.

UPDATE_EXISTING_ID:
- Set update_existing_id to an existing object's id to add to it (for example, new rows for an existing Airtable table).
- Use null for brand-new objects.

OUTPUT FORMAT:
{
  "nodes": [
    {
      "id": "unique_descriptive_id",
      "schema_id": "app/component",
      "instruction": "Clear, specific generation directive",
      "context": {
        "entities": {"person": "...", "company": "...", "email": "..."},
        "tone": "professional|casual|urgent",
        "purpose": "what this data represents"
      },
      "depends_on": [],
      "reference_examples": [],
      "update_existing_id": null
    }
  ],
  "edges": [
    {
      "source": "parent_node_id",
      "target": "child_node_id",
      "relationship": "data_flow",
      "mapping": {"source.field": "target.field"}
    }
  ]
}`

// scenarioSystemPrompt fixes the world/scenes output contract.
const scenarioSystemPrompt = `You design COHERENT TEST ENVIRONMENTS for evaluating AI agents.

Given the tasks an agent should be able to complete, create the MINIMAL data that must exist for the agent to work. All data should read like one company's real operations.

PROCESS:
1. Work out which data each task needs the agent to READ or QUERY.
2. Plan shared entities that appear across several data objects.
3. Output a world description plus scenes of data to generate.

PRECONDITIONS ONLY:
If a task says "find frustrated emails and create Linear issues", create the frustrated emails. The agent creates the issues.

COHERENCE:
- The same customer appears in emails AND tables.
- Use realistic names, addresses, amounts and dates.
- Mix positive, negative and edge-case situations.

SCHEMAS:
- Use ONLY schema ids from the AVAILABLE SCHEMAS list, matching exactly ("app/component").
- Node ids must be unique across ALL scenes.

EXISTING WORLD:
When a world already exists, EXTEND it. Keep every existing entity with its id and add only what the new tasks need.

OUTPUT FORMAT:
{
  "world_markdown": "# World: [Company]\n\n## Summary\n[Short description]\n\n## Entities\n\n### [Entity Type]\n- **[Name]** (id: [snake_case_id])\n  - [Key details]\n  - Traits: [traits]",
  "scenes": [
    {
      "name": "Scene name",
      "description": "What this scene represents",
      "entity_refs": ["entity_id"],
      "nodes": [
        {
          "id": "unique_node_id",
          "schema_id": "app/component",
          "instruction": "Clear directive for generating this data",
          "context": {"entity_ref": "entity_id", "tone": "frustrated"},
          "depends_on": [],
          "update_existing_id": null
        }
      ]
    }
  ]
}

EXAMPLE:
Tasks: ["Find frustrated customer emails and create Linear issues", "Follow up on stale deals"]
Needed: frustrated customer emails, a customer table with ARR and renewal dates, and emails about deals that went quiet.
{
  "world_markdown": "# World: TechCorp SaaS\n\n## Summary\nB2B SaaS company with enterprise customers.\n\n## Entities\n\n### Customers\n- **Acme Corp** (id: acme_corp)\n  - ARR: $75,000 | Renewal: 30 days\n  - Contact: John Smith (john@acme.com)\n  - Traits: enterprise, frustrated\n\n- **Beta Inc** (id: beta_inc)\n  - ARR: $120,000 | Renewal: 90 days\n  - Contact: Sarah Chen (sarah@beta.com)\n  - Traits: enterprise, stale-deal",
  "scenes": [
    {
      "name": "Acme billing complaint",
      "description": "High-value customer unhappy about billing",
      "entity_refs": ["acme_corp"],
      "nodes": [{"id": "acme_frustrated_email", "schema_id": "gmail/thread", "instruction": "Frustrated email from John at Acme about unexpected charges; he mentions cancelling.", "context": {"entity_ref": "acme_corp", "tone": "frustrated"}, "depends_on": [], "update_existing_id": null}]
    },
    {
      "name": "Customer records",
      "description": "Central customer database",
      "entity_refs": ["acme_corp", "beta_inc"],
      "nodes": [{"id": "customers_table", "schema_id": "airtable/table", "instruction": "Customers table with Acme Corp ($75k ARR, renews in 30 days) and Beta Inc ($120k ARR, renews in 90 days).", "context": {"purpose": "customer_database"}, "depends_on": [], "update_existing_id": null}]
    }
  ]
}`

// buildDAGPrompt renders the builder's user message.
func buildDAGPrompt(task string, set *catalog.Set, existing []catalog.Record, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK (what the AI agent must do): %s\n\n", task)
	b.WriteString("AVAILABLE SCHEMAS (use ONLY these):\n")
	b.WriteString(schemaLines(set))

	if len(existing) > 0 {
		b.WriteString("\nEXISTING DATA (set update_existing_id to add to these):\n")
		b.WriteString(summarizeExisting(existing, limit, true))
	}

	b.WriteString("\nPlan the synthetic test data for this task. Each node is one data object that will exist in the environment.\n")
	b.WriteString("Use ONLY schema_ids from the list above.")
	return b.String()
}

// buildScenarioPrompt renders the scenario planner's user message.
func buildScenarioPrompt(req PlanRequest, set *catalog.Set, limit int) string {
	var b strings.Builder
	b.WriteString("TASKS (what the AI agent should be able to do):\n")
	for _, t := range req.Tasks {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	b.WriteString("\nAVAILABLE SCHEMAS (use ONLY these):\n")
	b.WriteString(schemaLines(set))

	if strings.TrimSpace(req.ExistingWorld) != "" {
		b.WriteString("\nEXISTING WORLD (EXTEND, don't replace):\n")
		b.WriteString(req.ExistingWorld)
		b.WriteString("\n")
	}

	if len(req.ExistingData) > 0 {
		b.WriteString("\nEXISTING DATA IN ENVIRONMENT:\n")
		b.WriteString(summarizeExisting(req.ExistingData, limit, false))
	}

	b.WriteString("\nDesign one coherent environment that enables ALL of these tasks.\n")
	b.WriteString("Create preconditions only; the agent creates the outputs.\n")
	b.WriteString("Respond with JSON in the output format from the system prompt.")
	return b.String()
}
