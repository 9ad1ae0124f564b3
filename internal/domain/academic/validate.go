package academic

import (
	"sort"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate checks an update against the profile schema and normalizes its
// values. Nothing is applied: the first violation is returned as a
// *ValidationError and the update is rejected as a whole.
func Validate(u Update) (ValidatedUpdate, error) {
	profileID := strings.TrimSpace(u.ProfileID)
	if profileID == "" {
		return ValidatedUpdate{}, invalid("profile_id", "is required")
	}
	if u.Sequence == 0 {
		return ValidatedUpdate{}, invalid("sequence_number", "must be greater than zero")
	}
	if len(u.Changes) == 0 {
		return ValidatedUpdate{}, invalid("changes", "at least one change is required")
	}

	out := ValidatedUpdate{
		profileID: profileID,
		source:    strings.TrimSpace(u.Source),
		sequence:  u.Sequence,
		changes:   make([]Change, 0, len(u.Changes)),
	}
	seen := make(map[Field]struct{}, len(u.Changes))

	for _, fc := range u.Changes {
		field, ok := ParseField(fc.TargetField)
		if !ok {
			return ValidatedUpdate{}, invalid(fc.TargetField, "unknown field")
		}
		if _, dup := seen[field]; dup {
			return ValidatedUpdate{}, invalid(fc.TargetField, "targeted more than once")
		}
		seen[field] = struct{}{}

		change, keep, err := validateChange(profileID, field, fc)
		if err != nil {
			return ValidatedUpdate{}, err
		}
		if !keep {
			continue
		}
		change.Sequence = u.Sequence
		change.floor = u.Sequence
		out.changes = append(out.changes, change)
	}

	sortChanges(out.changes)
	return out, nil
}

// validateChange normalizes one change. keep is false for changes that
// are accepted but have no effect on merge (a matching id).
func validateChange(profileID string, field Field, fc FieldChange) (change Change, keep bool, err error) {
	op := fc.Op
	if op == "" {
		op = OpSet
	}
	if op != OpSet && op != OpRemove {
		return Change{}, false, invalid(string(field), "unknown op %q", fc.Op)
	}

	// set with null on an optional scalar is a removal.
	remove := op == OpRemove || fc.Value == nil
	if remove {
		if field.IsRequired() {
			return Change{}, false, invalid(string(field), "required field cannot be removed")
		}
		if !field.IsRemovable() {
			if op == OpRemove {
				return Change{}, false, invalid(string(field), "collection fields cannot be removed")
			}
			return Change{}, false, invalid(string(field), "value cannot be null")
		}
		return Change{Field: field, Remove: true}, true, nil
	}

	switch field {
	case FieldID:
		id, ok := fc.Value.(string)
		if !ok {
			return Change{}, false, invalid(string(field), "must be a string")
		}
		if id != profileID {
			return Change{}, false, invalid(string(field), "is immutable (profile is %q)", profileID)
		}
		return Change{}, false, nil

	case FieldName:
		s, ok := fc.Value.(string)
		if !ok {
			return Change{}, false, invalid(string(field), "must be a string")
		}
		name, err := validateName(s)
		if err != nil {
			return Change{}, false, err
		}
		return Change{Field: field, value: name}, true, nil

	case FieldLevel, FieldMajor:
		s, ok := fc.Value.(string)
		if !ok {
			return Change{}, false, invalid(string(field), "must be a string")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return Change{}, false, invalid(string(field), "cannot be empty, remove it instead")
		}
		return Change{Field: field, value: s}, true, nil

	case FieldCourses, FieldTopics:
		list, err := toStringList(field, fc.Value)
		if err != nil {
			return Change{}, false, err
		}
		return Change{Field: field, value: list}, true, nil

	case FieldPreferences:
		m, err := toMapping(string(field), fc.Value)
		if err != nil {
			return Change{}, false, err
		}
		return Change{Field: field, value: m}, true, nil

	case FieldHistory:
		entries, err := toHistory(fc.Value)
		if err != nil {
			return Change{}, false, err
		}
		return Change{Field: field, value: entries}, true, nil
	}

	return Change{}, false, invalid(string(field), "unknown field")
}

// ─────────────────────────────────────────────────────────────────────────────
// Shape coercion
// ─────────────────────────────────────────────────────────────────────────────

// toStringList accepts []string or a decoded JSON array of strings.
// An empty list is valid and stays non-nil.
func toStringList(field Field, v any) ([]string, error) {
	var raw []string
	switch t := v.(type) {
	case []string:
		raw = t
	case []any:
		raw = make([]string, 0, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, invalid(string(field), "element %d must be a string", i)
			}
			raw = append(raw, s)
		}
	default:
		return nil, invalid(string(field), "must be a list of strings")
	}

	out := make([]string, 0, len(raw))
	for i, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, invalid(string(field), "element %d cannot be empty", i)
		}
		out = append(out, s)
	}
	return out, nil
}

// toMapping accepts a string-keyed object. Keys must be non-empty. The
// result is a JSON-shaped copy that shares no memory with v.
func toMapping(field string, v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return jsonObject(field, t)
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			if strings.TrimSpace(k) == "" {
				return nil, invalid(field, "keys cannot be empty")
			}
			out[k] = s
		}
		return out, nil
	case nil:
		return nil, invalid(field, "must be an object")
	}

	n, err := jsonValue(field, v)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]any)
	if !ok {
		return nil, invalid(field, "must be an object")
	}
	return jsonObject(field, m)
}

// toHistory accepts a list of non-empty objects.
func toHistory(v any) ([]map[string]any, error) {
	field := string(FieldHistory)

	var raw []any
	switch t := v.(type) {
	case []map[string]any:
		raw = make([]any, len(t))
		for i, m := range t {
			raw[i] = m
		}
	case []any:
		raw = t
	default:
		return nil, invalid(field, "must be a list of objects")
	}

	out := make([]map[string]any, 0, len(raw))
	for i, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, invalid(field, "entry %d must be an object", i)
		}
		if len(m) == 0 {
			return nil, invalid(field, "entry %d cannot be empty", i)
		}
		entry, err := toMapping(field, m)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func sortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		return fieldRank(changes[i].Field) < fieldRank(changes[j].Field)
	})
}
