// File: api/schemas/interfaces.go
package schemas

import (
	"context"
	"errors"
)

// ErrSessionLost marks a terminal browser/session failure. Drivers must wrap
// it (errors.Is) so the loop can distinguish a dead session from an ordinary
// action failure: the former ends the attempt, the latter feeds the stall
// detector.
var ErrSessionLost = errors.New("browser session lost")

// ConcreteKind is the vocabulary of driver-level operations. The executor is
// the only producer; it translates validated abstract actions into these.
type ConcreteKind string

const (
	ConcreteFill   ConcreteKind = "fill"
	ConcreteSelect ConcreteKind = "select"
	ConcreteClick  ConcreteKind = "click"
	ConcreteUpload ConcreteKind = "upload"
)

// ConcreteAction is a fully resolved driver operation: the selector comes from
// the snapshot element, never from the model.
type ConcreteAction struct {
	Kind     ConcreteKind
	Selector string
	Value    string
	Path     string
}

// RawElement is an interactive element as extracted from the live DOM, before
// normalization. Ordering is DOM traversal order at capture time.
type RawElement struct {
	Selector string   `json:"selector"`
	Tag      string   `json:"tag"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Value    string   `json:"value"`
	Options  []string `json:"options"`
	Required bool     `json:"required"`
	Disabled bool     `json:"disabled"`
}

// RawCapture is the unprocessed page state returned by the driver. The
// snapshot builder turns it into a normalized, fingerprinted Snapshot.
type RawCapture struct {
	URL         string
	HTML        string
	VisibleText string
	Elements    []RawElement
	Screenshot  []byte
}

// BrowserDriver abstracts the live browser session. Implementations must
// report a lost session via ErrSessionLost and must release all resources on
// Close regardless of the session state.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string) error
	CapturePage(ctx context.Context, withScreenshot bool) (*RawCapture, error)
	Perform(ctx context.Context, action ConcreteAction) error
	CurrentURL(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// ProfileProvider is a read-only source of default answers to screening
// questions. The planner consults it when composing its payload; nothing in
// the core ever mutates a profile.
type ProfileProvider interface {
	// Answer returns the stored answer for a screening question, if any.
	Answer(question string) (string, bool)
	// Summary returns the applicant facts (name, contact, work authorization,
	// ...) included verbatim in planner payloads.
	Summary() map[string]string
}

// HistoryRecorder accepts the terminal result and full session history of one
// attempt. Implementations are append-only.
type HistoryRecorder interface {
	Record(ctx context.Context, result AttemptResult, history *SessionHistory) error
}
