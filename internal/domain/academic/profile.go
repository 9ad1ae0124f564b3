package academic

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxNameLength bounds the display name of a learner, in characters.
const maxNameLength = 200

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// StudentProfile is the learner record that agents read and propose updates to.
//
// ID and Name are required. Every other attribute is optional and absent
// until set; absent attributes are omitted from the JSON form.
type StudentProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Level Optional[string] `json:"level,omitzero"`
	Major Optional[string] `json:"major,omitzero"`

	Courses Optional[[]string] `json:"courses,omitzero"`
	Topics  Optional[[]string] `json:"topics,omitzero"`

	Preferences Optional[map[string]any] `json:"preferences,omitzero"`

	// History is an append-only log of past events.
	History Optional[[]map[string]any] `json:"history,omitzero"`

	// Clocks holds the last applied sequence number per field.
	Clocks FieldClocks `json:"-"`

	// Sequence is the highest sequence number applied to the profile.
	Sequence uint64 `json:"-"`
}

// NewProfileParams holds the attributes captured at onboarding.
type NewProfileParams struct {
	ID          string
	Name        string
	Level       string
	Major       string
	Courses     []string
	Topics      []string
	Preferences map[string]any
}

// NewStudentProfile creates a profile with validation of every supplied field.
// Empty Level/Major leave the attribute absent; nil collections stay absent.
func NewStudentProfile(params NewProfileParams) (StudentProfile, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return StudentProfile{}, invalid(string(FieldID), "is required")
	}

	name, err := validateName(params.Name)
	if err != nil {
		return StudentProfile{}, err
	}

	p := StudentProfile{
		ID:     id,
		Name:   name,
		Clocks: make(FieldClocks),
	}

	if lvl := strings.TrimSpace(params.Level); lvl != "" {
		p.Level = Some(lvl)
	}
	if major := strings.TrimSpace(params.Major); major != "" {
		p.Major = Some(major)
	}

	if params.Courses != nil {
		courses, err := toStringList(FieldCourses, params.Courses)
		if err != nil {
			return StudentProfile{}, err
		}
		p.Courses = Some(UnionOrdered(nil, courses))
	}
	if params.Topics != nil {
		topics, err := toStringList(FieldTopics, params.Topics)
		if err != nil {
			return StudentProfile{}, err
		}
		p.Topics = Some(UnionOrdered(nil, topics))
	}
	if params.Preferences != nil {
		prefs, err := toMapping(string(FieldPreferences), params.Preferences)
		if err != nil {
			return StudentProfile{}, err
		}
		p.Preferences = Some(prefs)
	}

	return p, nil
}

// Clone returns a deep copy of the profile.
func (p StudentProfile) Clone() StudentProfile {
	out := StudentProfile{
		ID:       p.ID,
		Name:     p.Name,
		Level:    p.Level,
		Major:    p.Major,
		Clocks:   p.Clocks.Clone(),
		Sequence: p.Sequence,
	}

	if v, ok := p.Courses.Get(); ok {
		out.Courses = Some(cloneStrings(v))
	}
	if v, ok := p.Topics.Get(); ok {
		out.Topics = Some(cloneStrings(v))
	}
	if v, ok := p.Preferences.Get(); ok {
		out.Preferences = Some(cloneMap(v))
	}
	if v, ok := p.History.Get(); ok {
		out.History = Some(cloneMaps(v))
	}

	return out
}

// Has reports whether the field is present on the profile.
func (p StudentProfile) Has(f Field) bool {
	switch f {
	case FieldID:
		return p.ID != ""
	case FieldName:
		return p.Name != ""
	case FieldLevel:
		return p.Level.IsSet()
	case FieldMajor:
		return p.Major.IsSet()
	case FieldCourses:
		return p.Courses.IsSet()
	case FieldTopics:
		return p.Topics.IsSet()
	case FieldPreferences:
		return p.Preferences.IsSet()
	case FieldHistory:
		return p.History.IsSet()
	default:
		return false
	}
}

// String returns a short representation for logging.
func (p StudentProfile) String() string {
	return fmt.Sprintf("StudentProfile{ID: %s, Name: %s, Sequence: %d}", p.ID, p.Name, p.Sequence)
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalid(string(FieldName), "is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalid(string(FieldName), "must be at most %d characters", maxNameLength)
	}
	return name, nil
}
