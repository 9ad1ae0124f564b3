package academic

// ══════════════════════════════════════════════════════════════════════════════
// REDUCERS
// Pure functions combining a current value with a delta. None of them retain
// or mutate their inputs.
// ══════════════════════════════════════════════════════════════════════════════

// UnionOrdered returns current followed by the entries of delta that are not
// already present, in delta order. Duplicates inside delta are collapsed.
func UnionOrdered[T comparable](current, delta []T) []T {
	out := make([]T, 0, len(current)+len(delta))
	seen := make(map[T]struct{}, len(current)+len(delta))

	for _, v := range current {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range delta {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

// AppendOnly returns current followed by delta. Nothing is removed or deduplicated.
func AppendOnly[T any](current, delta []T) []T {
	out := make([]T, 0, len(current)+len(delta))
	out = append(out, current...)
	return append(out, delta...)
}

// OverwriteKeys returns current with every key of delta overwritten.
// Keys absent from delta are preserved. Values are deep-copied.
func OverwriteKeys(current, delta map[string]any) map[string]any {
	out := cloneMap(current)
	if out == nil {
		out = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		out[k] = cloneValue(v)
	}
	return out
}

// DeepMerge merges delta into current recursively: nested maps present on
// both sides are merged, every other value in delta replaces current.
func DeepMerge(current, delta map[string]any) map[string]any {
	out := cloneMap(current)
	if out == nil {
		out = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		existing, okA := out[k].(map[string]any)
		incoming, okB := v.(map[string]any)
		if okA && okB {
			out[k] = DeepMerge(existing, incoming)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Deep copy helpers
// ─────────────────────────────────────────────────────────────────────────────

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneMaps(in []map[string]any) []map[string]any {
	if in == nil {
		return nil
	}
	out := make([]map[string]any, len(in))
	for i, m := range in {
		out[i] = cloneMap(m)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		return cloneMaps(t)
	case []string:
		return cloneStrings(t)
	case map[string]string:
		if t == nil {
			return t
		}
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	default:
		return v
	}
}
