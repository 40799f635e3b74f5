// File: internal/planner/validate.go
package planner

import (
	"errors"
	"fmt"

	"github.com/applyloop/applyloop/api/schemas"
)

// ErrEmptyBatch reports that no usable actions survived validation.
var ErrEmptyBatch = errors.New("no valid actions in planned batch")

// Violation describes a planned action rejected during validation. Violations
// are surfaced to the caller so they can be recorded in the session history;
// a model that references ghosts must leave a trace.
type Violation struct {
	Action schemas.Action
	Reason string
}

// ValidateBatch filters a model-proposed batch against the snapshot it was
// planned from. Invalid actions are dropped, never executed; the survivors
// keep their order and are capped at maxBatch. allowAbort permits the ABORT
// action, which is reserved for the recovery tier.
func ValidateBatch(batch *schemas.ActionBatch, snap *schemas.Snapshot, maxBatch int, allowAbort bool) ([]schemas.Action, []Violation, error) {
	if batch == nil || len(batch.Actions) == 0 {
		return nil, nil, ErrEmptyBatch
	}

	var valid []schemas.Action
	var violations []Violation

	reject := func(a schemas.Action, reason string) {
		violations = append(violations, Violation{Action: a, Reason: reason})
	}

	for _, a := range batch.Actions {
		if reason := checkAction(a, snap, allowAbort); reason != "" {
			reject(a, reason)
			continue
		}
		valid = append(valid, a)
	}

	if len(valid) == 0 {
		return nil, violations, fmt.Errorf("%w: %d proposed, all rejected", ErrEmptyBatch, len(batch.Actions))
	}
	if maxBatch > 0 && len(valid) > maxBatch {
		for _, a := range valid[maxBatch:] {
			reject(a, fmt.Sprintf("batch limit of %d exceeded", maxBatch))
		}
		valid = valid[:maxBatch]
	}
	return valid, violations, nil
}

// checkAction returns a rejection reason, or "" when the action is usable.
func checkAction(a schemas.Action, snap *schemas.Snapshot, allowAbort bool) string {
	resolve := func() (schemas.Element, string) {
		if a.ElementID == "" {
			return schemas.Element{}, "missing element_id"
		}
		el, ok := snap.ElementByID(a.ElementID)
		if !ok {
			return schemas.Element{}, fmt.Sprintf("element %q not present in snapshot", a.ElementID)
		}
		if !el.IsEnabled {
			return schemas.Element{}, fmt.Sprintf("element %q is disabled", a.ElementID)
		}
		return el, ""
	}

	switch a.Type {
	case schemas.ActionFillText:
		el, reason := resolve()
		if reason != "" {
			return reason
		}
		if el.Role != schemas.RoleTextbox && el.Role != schemas.RoleTextarea {
			return fmt.Sprintf("element %q has role %s, cannot be filled", a.ElementID, el.Role)
		}
		return ""

	case schemas.ActionSelectOption:
		el, reason := resolve()
		if reason != "" {
			return reason
		}
		if el.Role != schemas.RoleSelect && el.Role != schemas.RoleRadio {
			return fmt.Sprintf("element %q has role %s, cannot be selected", a.ElementID, el.Role)
		}
		if len(el.Options) > 0 && !contains(el.Options, a.Value) {
			return fmt.Sprintf("value %q is not an option of element %q", a.Value, a.ElementID)
		}
		return ""

	case schemas.ActionClick:
		_, reason := resolve()
		return reason

	case schemas.ActionUploadFile:
		el, reason := resolve()
		if reason != "" {
			return reason
		}
		if el.Role != schemas.RoleFile {
			return fmt.Sprintf("element %q has role %s, cannot receive a file", a.ElementID, el.Role)
		}
		if a.Path == "" {
			return "upload action is missing a file path"
		}
		return ""

	case schemas.ActionWaitForChange:
		return ""

	case schemas.ActionSubmit:
		_, reason := resolve()
		if reason != "" {
			return reason
		}
		if empty := snap.RequiredEmpty(); len(empty) > 0 {
			return fmt.Sprintf("cannot submit while %d required fields are empty (first: %q)",
				len(empty), empty[0].Label)
		}
		return ""

	case schemas.ActionAbort:
		if !allowAbort {
			return "abort is reserved for the recovery tier"
		}
		return ""

	default:
		return fmt.Sprintf("unknown action type %q", a.Type)
	}
}

func contains(opts []string, v string) bool {
	for _, o := range opts {
		if o == v {
			return true
		}
	}
	return false
}
