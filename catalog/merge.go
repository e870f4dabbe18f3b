package catalog

// Merge applies patch onto base and returns the result. Nested objects
// merge key by key, arrays are appended (so a patch can add rows to an
// existing table), and any other value in patch replaces the base value.
// Neither input is modified.
func Merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		bv, ok := out[k]
		if !ok {
			out[k] = pv
			continue
		}
		switch b := bv.(type) {
		case map[string]any:
			if p, ok := pv.(map[string]any); ok {
				out[k] = Merge(b, p)
				continue
			}
		case []any:
			if p, ok := pv.([]any); ok {
				merged := make([]any, 0, len(b)+len(p))
				merged = append(merged, b...)
				merged = append(merged, p...)
				out[k] = merged
				continue
			}
		}
		out[k] = pv
	}
	return out
}

// Strip returns a shallow copy of data without large substructures that
// would only bloat prompts (currently the "records" array of tables).
func Strip(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "records" {
			continue
		}
		out[k] = v
	}
	return out
}
