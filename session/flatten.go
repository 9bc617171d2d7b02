package session

// Flatten collapses nested containers into a single level keyed by dotted
// paths. Empty containers and lists are kept as leaf values.
func Flatten(data map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", data)
	return out
}

func flattenInto(out map[string]any, prefix string, data map[string]any) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			flattenInto(out, key, m)
			continue
		}
		out[key] = v
	}
}
