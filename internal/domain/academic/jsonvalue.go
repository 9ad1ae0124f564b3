package academic

import (
	"encoding/json"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// JSON-shaped values
//
// Open-ended values (preferences, history entries, study plans, metadata)
// are stored only as JSON shapes: map[string]any, []any and scalars.
// cloneValue copies those shapes completely, so nothing stored shares
// memory with the caller that supplied it or with a snapshot reader.
// ─────────────────────────────────────────────────────────────────────────────

// jsonValue returns a private JSON-shaped copy of v. Values of other Go
// types are converted through their JSON encoding.
func jsonValue(field string, v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t, nil
	case map[string]any:
		return jsonObject(field, t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := jsonValue(field, e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, invalid(field, "value of type %T is not representable as JSON", v)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, invalid(field, "value of type %T is not representable as JSON", v)
	}
	return out, nil
}

// jsonObject is jsonValue for an object. Keys must be non-empty.
// A nil map stays nil.
func jsonObject(field string, m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if strings.TrimSpace(k) == "" {
			return nil, invalid(field, "keys cannot be empty")
		}
		n, err := jsonValue(field, v)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

// jsonObjects is jsonObject for a list of objects.
func jsonObjects(field string, in []map[string]any) ([]map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]map[string]any, len(in))
	for i, m := range in {
		n, err := jsonObject(field, m)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
