// File: api/schemas/actions.go
package schemas

import "time"

// ActionType enumerates the abstract UI operations a planning model may
// propose. The executor translates these into concrete driver calls.
type ActionType string

const (
	ActionFillText      ActionType = "FILL_TEXT"       // Type a value into a text input. (element_id, value)
	ActionSelectOption  ActionType = "SELECT_OPTION"   // Choose an option of a select. (element_id, value)
	ActionClick         ActionType = "CLICK"           // Click an element. (element_id)
	ActionUploadFile    ActionType = "UPLOAD_FILE"     // Attach a local file. (element_id, path)
	ActionWaitForChange ActionType = "WAIT_FOR_CHANGE" // Wait for the DOM to change. (timeout_ms)
	ActionSubmit        ActionType = "SUBMIT"          // Submit the current form step.
	ActionAbort         ActionType = "ABORT"           // End the attempt; recovery model only. (reason)
)

// Action is a single proposed UI operation. Every element reference must
// resolve against the snapshot the batch was planned from; a dangling id is a
// validation failure, never a runtime crash.
type Action struct {
	Type      ActionType `json:"type"`
	ElementID string     `json:"element_id,omitempty"`
	Value     string     `json:"value,omitempty"`
	Path      string     `json:"path,omitempty"`
	TimeoutMs int        `json:"timeout_ms,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// ActionBatch is an ordered, bounded list of actions planned for one
// iteration. The rationale is kept for logging and the history trace only; it
// never influences execution.
type ActionBatch struct {
	Actions   []Action `json:"actions"`
	Rationale string   `json:"rationale,omitempty"`
}

// ErrorKind is a structured code attached to a failed ActionOutcome. Using a
// closed vocabulary lets the loop map failures onto its error taxonomy without
// string matching.
type ErrorKind string

const (
	ErrKindTimeout         ErrorKind = "TIMEOUT"
	ErrKindValidation      ErrorKind = "VALIDATION"
	ErrKindElementNotFound ErrorKind = "ELEMENT_NOT_FOUND"
	ErrKindElementDisabled ErrorKind = "ELEMENT_DISABLED"
	ErrKindResourceMissing ErrorKind = "RESOURCE_MISSING"
	ErrKindDriverFailure   ErrorKind = "DRIVER_FAILURE"
	ErrKindSessionLost     ErrorKind = "SESSION_LOST"
)

// ActionOutcome records the result of executing one action. Outcomes are
// appended to the session history, which is the only channel through which
// later planner and recovery calls receive prior context.
type ActionOutcome struct {
	Action         Action    `json:"action"`
	Success        bool      `json:"success"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	NewFingerprint string    `json:"new_fingerprint,omitempty"`
	Iteration      int       `json:"iteration"`
	Timestamp      time.Time `json:"timestamp"`
}

// SessionHistory is the append-only record of one application attempt. It is
// owned exclusively by that attempt's loop instance and handed to the history
// recorder exactly once, at termination.
type SessionHistory struct {
	AttemptID string          `json:"attempt_id"`
	JobURL    string          `json:"job_url"`
	Outcomes  []ActionOutcome `json:"outcomes"`
}

// Append adds outcomes to the history in order.
func (h *SessionHistory) Append(outcomes ...ActionOutcome) {
	h.Outcomes = append(h.Outcomes, outcomes...)
}

// Tail returns the most recent n outcomes, or all of them if fewer exist.
// The returned slice aliases the history; callers must not mutate it.
func (h *SessionHistory) Tail(n int) []ActionOutcome {
	if n <= 0 || len(h.Outcomes) == 0 {
		return nil
	}
	if len(h.Outcomes) <= n {
		return h.Outcomes
	}
	return h.Outcomes[len(h.Outcomes)-n:]
}
