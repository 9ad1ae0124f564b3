package academic

// ══════════════════════════════════════════════════════════════════════════════
// FIELD CATALOGUE
// ══════════════════════════════════════════════════════════════════════════════

// Field names a StudentProfile attribute that a partial update may target.
type Field string

const (
	FieldID          Field = "id"
	FieldName        Field = "name"
	FieldLevel       Field = "level"
	FieldMajor       Field = "major"
	FieldCourses     Field = "courses"
	FieldTopics      Field = "topics"
	FieldPreferences Field = "preferences"
	FieldHistory     Field = "history"
)

// FieldKind selects the reducer used to merge a field.
type FieldKind int

const (
	// KindIdentity fields are immutable once set.
	KindIdentity FieldKind = iota
	// KindScalar fields are last-writer-wins by sequence number.
	KindScalar
	// KindOrderedSet fields are merged by ordered set-union.
	KindOrderedSet
	// KindMapping fields are merged by key-wise overwrite.
	KindMapping
	// KindAppendLog fields only ever grow.
	KindAppendLog
)

// String returns the reducer name of the kind.
func (k FieldKind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindScalar:
		return "scalar"
	case KindOrderedSet:
		return "ordered_set"
	case KindMapping:
		return "mapping"
	case KindAppendLog:
		return "append_log"
	default:
		return "unknown"
	}
}

// fieldOrder is the canonical order in which changes are applied and reported.
var fieldOrder = []Field{
	FieldID,
	FieldName,
	FieldLevel,
	FieldMajor,
	FieldCourses,
	FieldTopics,
	FieldPreferences,
	FieldHistory,
}

var fieldKinds = map[Field]FieldKind{
	FieldID:          KindIdentity,
	FieldName:        KindScalar,
	FieldLevel:       KindScalar,
	FieldMajor:       KindScalar,
	FieldCourses:     KindOrderedSet,
	FieldTopics:      KindOrderedSet,
	FieldPreferences: KindMapping,
	FieldHistory:     KindAppendLog,
}

// Fields returns every known field in canonical order.
func Fields() []Field {
	out := make([]Field, len(fieldOrder))
	copy(out, fieldOrder)
	return out
}

// ParseField converts a wire name into a Field.
func ParseField(name string) (Field, bool) {
	f := Field(name)
	_, ok := fieldKinds[f]
	return f, ok
}

// IsValid reports whether f is a known field.
func (f Field) IsValid() bool {
	_, ok := fieldKinds[f]
	return ok
}

// Kind returns the merge kind of the field.
func (f Field) Kind() FieldKind {
	return fieldKinds[f]
}

// IsRequired reports whether the field must always be present.
func (f Field) IsRequired() bool {
	return f == FieldID || f == FieldName
}

// IsRemovable reports whether an update may remove the field.
// Only optional scalars can be removed; collections are merge-only.
func (f Field) IsRemovable() bool {
	return !f.IsRequired() && f.Kind() == KindScalar
}

// String returns the wire name.
func (f Field) String() string {
	return string(f)
}

func fieldRank(f Field) int {
	for i, candidate := range fieldOrder {
		if candidate == f {
			return i
		}
	}
	return len(fieldOrder)
}

// FieldClocks records the last applied sequence number per field.
type FieldClocks map[Field]uint64

// Clone returns an independent copy; never nil.
func (c FieldClocks) Clone() FieldClocks {
	out := make(FieldClocks, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
