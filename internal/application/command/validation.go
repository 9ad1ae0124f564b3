// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

// MaxSectionItems bounds the number of entries one delta section may carry.
const MaxSectionItems = 256

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report wire names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(validateDeltaEnvelope, academic.StateDelta{})
	return v
}

// validateDeltaEnvelope checks identity and section sizes of a delta before
// it reaches the domain validator.
func validateDeltaEnvelope(sl validator.StructLevel) {
	d := sl.Current().Interface().(academic.StateDelta)

	if strings.TrimSpace(d.LearnerID) == "" {
		sl.ReportError(d.LearnerID, "learner_id", "LearnerID", "required", "")
	}
	if d.Sequence == 0 {
		sl.ReportError(d.Sequence, "sequence_number", "Sequence", "gt", "0")
	}

	sizes := map[string]int{
		"calendar":           len(d.Calendar),
		"upcoming_events":    len(d.UpcomingEvents),
		"tasks":              len(d.Tasks),
		"active_tasks":       len(d.ActiveTasks),
		"completed_tasks":    len(d.CompletedTasks),
		"progress":           len(d.Progress),
		"learning_resources": len(d.LearningResources),
		"study_plans":        len(d.StudyPlans),
		"results":            len(d.Results),
		"feedback":           len(d.Feedback),
		"notifications":      len(d.Notifications),
	}
	for section, n := range sizes {
		if n > MaxSectionItems {
			sl.ReportError(n, section, section, "max", fmt.Sprint(MaxSectionItems))
		}
	}
}

// validateCommand runs the struct tags of cmd and maps failures onto the
// domain validation error.
func validateCommand(op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return shared.WrapError("command", op, shared.ErrInvalidInput, "cannot validate command", err)
	}

	first := fieldErrs[0]
	return &academic.ValidationError{
		Field:  fieldPath(first),
		Reason: formatFieldError(first),
	}
}

// fieldPath strips the command type from the namespace ("Cmd.changes[0]" -> "changes[0]").
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must have at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed %q check", e.Tag())
	}
}
