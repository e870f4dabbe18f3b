package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRefID(t *testing.T) {
	ref := SchemaRef{App: "gmail", Component: "thread"}
	assert.Equal(t, "gmail/thread", ref.ID())

	app, comp, ok := ParseID("airtable/table")
	require.True(t, ok)
	assert.Equal(t, "airtable", app)
	assert.Equal(t, "table", comp)

	for _, bad := range []string{"", "gmail", "/thread", "gmail/"} {
		_, _, ok := ParseID(bad)
		assert.False(t, ok, "ParseID(%q)", bad)
	}
}

func TestSetOrderAndLookup(t *testing.T) {
	s := NewSet([]SchemaRef{
		{App: "linear", Component: "projects", Description: "v1"},
		{App: "gmail", Component: "thread"},
		{App: "linear", Component: "projects", Description: "v2"},
	})

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"linear/projects", "gmail/thread"}, s.IDs())
	assert.Equal(t, []string{"gmail/thread", "linear/projects"}, s.SortedIDs())

	ref, ok := s.Lookup("linear/projects")
	require.True(t, ok)
	assert.Equal(t, "v2", ref.Description)
	assert.False(t, s.Contains("slack/channel"))
}

func TestRecordDisplayName(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"name wins", map[string]any{"name": "Customers", "title": "x"}, "Customers"},
		{"title", map[string]any{"title": "Q3 roadmap"}, "Q3 roadmap"},
		{"subject", map[string]any{"subject": "Billing issue"}, "Billing issue"},
		{"empty name falls through", map[string]any{"name": "", "subject": "Hi"}, "Hi"},
		{"none", map[string]any{"fields": []any{}}, "unnamed"},
		{"nil data", nil, "unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Record{Data: tt.data}.DisplayName())
		})
	}
}

func TestMerge(t *testing.T) {
	base := map[string]any{
		"name":    "Customers",
		"fields":  []any{"Name", "ARR"},
		"records": []any{map[string]any{"Name": "Acme"}},
		"meta":    map[string]any{"owner": "ops", "color": "blue"},
	}
	patch := map[string]any{
		"records": []any{map[string]any{"Name": "Beta"}},
		"meta":    map[string]any{"color": "red"},
		"fields":  "replaced",
		"new":     1.0,
	}

	got := Merge(base, patch)

	assert.Equal(t, "Customers", got["name"])
	assert.Equal(t, "replaced", got["fields"])
	assert.Equal(t, 1.0, got["new"])
	assert.Len(t, got["records"], 2)
	assert.Equal(t, map[string]any{"owner": "ops", "color": "red"}, got["meta"])

	// inputs untouched
	assert.Len(t, base["records"], 1)
	assert.Equal(t, "blue", base["meta"].(map[string]any)["color"])
}

func TestStrip(t *testing.T) {
	data := map[string]any{"name": "t", "records": []any{1, 2}, "fields": []any{"a"}}
	got := Strip(data)
	assert.NotContains(t, got, "records")
	assert.Contains(t, got, "fields")
	assert.Contains(t, data, "records")
}
