package academic

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ══════════════════════════════════════════════════════════════════════════════
// PARTIAL UPDATE (wire form)
// ══════════════════════════════════════════════════════════════════════════════

// Op is the operation a FieldChange performs.
type Op string

const (
	// OpSet merges the value into the field. It is the default.
	OpSet Op = "set"
	// OpRemove clears an optional scalar field.
	OpRemove Op = "remove"
)

// FieldChange names one field and the value proposed for it.
type FieldChange struct {
	TargetField string `json:"target_field"`
	Op          Op     `json:"op,omitempty"`
	Value       any    `json:"value,omitempty"`
}

// Update is a sparse, unvalidated proposal submitted by an agent.
// It carries a single sequence number that orders it against other updates.
type Update struct {
	ProfileID string        `json:"profile_id"`
	Sequence  uint64        `json:"sequence_number"`
	Source    string        `json:"source,omitempty"`
	Changes   []FieldChange `json:"changes"`
}

// NewUpdate starts an empty update for a profile.
func NewUpdate(profileID string, sequence uint64) Update {
	return Update{ProfileID: profileID, Sequence: sequence}
}

// Set returns a copy of u that sets field to value.
func (u Update) Set(field Field, value any) Update {
	return u.with(FieldChange{TargetField: string(field), Op: OpSet, Value: value})
}

// Remove returns a copy of u that removes field.
func (u Update) Remove(field Field) Update {
	return u.with(FieldChange{TargetField: string(field), Op: OpRemove})
}

// WithSource returns a copy of u attributed to source.
func (u Update) WithSource(source string) Update {
	u.Changes = append([]FieldChange(nil), u.Changes...)
	u.Source = source
	return u
}

func (u Update) with(c FieldChange) Update {
	changes := make([]FieldChange, 0, len(u.Changes)+1)
	changes = append(changes, u.Changes...)
	u.Changes = append(changes, c)
	return u
}

// DecodeUpdate parses the JSON envelope of an update.
// Unknown keys anywhere in the envelope are rejected.
func DecodeUpdate(data []byte) (Update, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var u Update
	if err := dec.Decode(&u); err != nil {
		return Update{}, decodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Update{}, invalid("", "unexpected data after update envelope")
	}
	return u, nil
}

func decodeError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return invalid(typeErr.Field, "expected %s", typeErr.Type)
	}
	return invalid("", "malformed envelope: %v", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATED UPDATE
// ══════════════════════════════════════════════════════════════════════════════

// Change is one normalized field change of a ValidatedUpdate.
type Change struct {
	Field    Field
	Sequence uint64
	Remove   bool

	// floor is the lowest sequence number folded into this change.
	// Clock checks run against it so that combined updates fail the same
	// way their parts would.
	floor uint64
	value any
}

// Value returns the normalized value of a set change.
func (c Change) Value() any {
	return cloneValue(c.value)
}

// ValidatedUpdate is an Update that passed Validate. It can only be built by
// Validate or Combine, so Merge never sees malformed input.
type ValidatedUpdate struct {
	profileID string
	source    string
	sequence  uint64
	changes   []Change
}

// ProfileID returns the targeted profile.
func (u ValidatedUpdate) ProfileID() string { return u.profileID }

// Source returns the proposing agent, if any.
func (u ValidatedUpdate) Source() string { return u.source }

// Sequence returns the highest sequence number carried by the update.
func (u ValidatedUpdate) Sequence() uint64 { return u.sequence }

// Changes returns the changes in canonical field order.
func (u ValidatedUpdate) Changes() []Change {
	out := make([]Change, len(u.changes))
	copy(out, u.changes)
	return out
}

// Fields returns the fields touched by the update in canonical order.
func (u ValidatedUpdate) Fields() []Field {
	out := make([]Field, len(u.changes))
	for i, c := range u.changes {
		out[i] = c.Field
	}
	return out
}

// IsEmpty reports whether merging the update would change nothing.
func (u ValidatedUpdate) IsEmpty() bool {
	return len(u.changes) == 0
}

// ══════════════════════════════════════════════════════════════════════════════
// COMBINE
// ══════════════════════════════════════════════════════════════════════════════

// Combine folds validated updates, in the given order, into a single update.
// Merging the result once is equivalent to merging each input in turn.
//
// Updates must target the same profile; the last non-empty source wins.
// A field touched twice must see a strictly greater sequence number the
// second time, otherwise the same StaleUpdateError or ConflictError that
// sequential merging would produce is returned.
func Combine(updates ...ValidatedUpdate) (ValidatedUpdate, error) {
	if len(updates) == 0 {
		return ValidatedUpdate{}, invalid("", "nothing to combine")
	}

	out := ValidatedUpdate{
		profileID: updates[0].profileID,
		source:    updates[0].source,
	}
	byField := make(map[Field]int)

	for _, u := range updates {
		if u.profileID != out.profileID {
			return ValidatedUpdate{}, invalid("profile_id",
				"cannot combine updates for %q and %q", out.profileID, u.profileID)
		}
		if u.sequence > out.sequence {
			out.sequence = u.sequence
		}
		if u.source != "" {
			out.source = u.source
		}

		for _, c := range u.changes {
			idx, seen := byField[c.Field]
			if !seen {
				byField[c.Field] = len(out.changes)
				out.changes = append(out.changes, c)
				continue
			}

			prev := out.changes[idx]
			if err := checkClock(c.Field, c.floor, prev.Sequence); err != nil {
				return ValidatedUpdate{}, err
			}
			out.changes[idx] = foldChange(prev, c)
		}
	}

	sortChanges(out.changes)
	return out, nil
}

func foldChange(prev, next Change) Change {
	folded := Change{
		Field:    next.Field,
		Sequence: next.Sequence,
		Remove:   next.Remove,
		floor:    prev.floor,
		value:    next.value,
	}

	switch next.Field.Kind() {
	case KindOrderedSet:
		folded.value = UnionOrdered(prev.value.([]string), next.value.([]string))
	case KindMapping:
		folded.value = OverwriteKeys(prev.value.(map[string]any), next.value.(map[string]any))
	case KindAppendLog:
		folded.value = AppendOnly(prev.value.([]map[string]any), next.value.([]map[string]any))
	}

	return folded
}
