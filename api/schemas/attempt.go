// File: api/schemas/attempt.go
package schemas

import "time"

// AttemptStatus is the terminal classification of one application attempt.
type AttemptStatus string

const (
	StatusCompleted AttemptStatus = "COMPLETED"
	StatusFailed    AttemptStatus = "FAILED"
	StatusAborted   AttemptStatus = "ABORTED"
)

// Well-known terminal reasons. Free-form reasons (e.g. an Abort emitted by the
// recovery model) are also valid; these constants cover the reasons the loop
// itself produces.
const (
	ReasonSessionLost = "browser session lost"
	ReasonExhausted   = "exhausted retry budget without progress"
	ReasonCancelled   = "cancelled"
)

// AttemptResult is the single terminal value of an attempt. The loop emits
// exactly one per job and holds no state afterwards.
type AttemptResult struct {
	AttemptID  string        `json:"attempt_id"`
	JobURL     string        `json:"job_url"`
	Status     AttemptStatus `json:"status"`
	// Reason is a human-readable explanation derived from the triggering
	// error kind. Empty for completed attempts.
	Reason     string    `json:"reason,omitempty"`
	Iterations int       `json:"iterations"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
