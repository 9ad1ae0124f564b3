package academic

// ══════════════════════════════════════════════════════════════════════════════
// MERGE
// ══════════════════════════════════════════════════════════════════════════════

// Merge applies a validated update to current and returns the new profile.
//
// Every touched field is checked against its clock before anything is
// applied: a lower sequence number yields *StaleUpdateError and an equal one
// yields *ConflictError. current is never modified and the result shares no
// memory with it or with u.
func Merge(current StudentProfile, u ValidatedUpdate) (StudentProfile, error) {
	if u.profileID != current.ID {
		return StudentProfile{}, invalid("profile_id",
			"update targets %q but profile is %q", u.profileID, current.ID)
	}

	for _, c := range u.changes {
		if err := checkClock(c.Field, c.floor, current.Clocks[c.Field]); err != nil {
			return StudentProfile{}, err
		}
	}

	next := current.Clone()
	for _, c := range u.changes {
		applyChange(&next, c)
		next.Clocks[c.Field] = c.Sequence
		if c.Sequence > next.Sequence {
			next.Sequence = c.Sequence
		}
	}

	return next, nil
}

// MergeAll merges updates one after another, stopping at the first error.
// On error the returned profile is the last successfully merged state.
func MergeAll(current StudentProfile, updates ...ValidatedUpdate) (StudentProfile, error) {
	state := current
	for _, u := range updates {
		next, err := Merge(state, u)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}

func applyChange(p *StudentProfile, c Change) {
	switch c.Field {
	case FieldName:
		p.Name = c.value.(string)

	case FieldLevel:
		p.Level = mergeScalar(c)
	case FieldMajor:
		p.Major = mergeScalar(c)

	case FieldCourses:
		p.Courses = Some(UnionOrdered(p.Courses.ValueOr(nil), c.value.([]string)))
	case FieldTopics:
		p.Topics = Some(UnionOrdered(p.Topics.ValueOr(nil), c.value.([]string)))

	case FieldPreferences:
		p.Preferences = Some(OverwriteKeys(p.Preferences.ValueOr(nil), c.value.(map[string]any)))

	case FieldHistory:
		p.History = Some(AppendOnly(p.History.ValueOr(nil), cloneMaps(c.value.([]map[string]any))))
	}
}

func mergeScalar(c Change) Optional[string] {
	if c.Remove {
		return None[string]()
	}
	return Some(c.value.(string))
}
