// File: api/schemas/schemas.go
package schemas

import (
	"time"
)

// ElementRole classifies an interactive element for the planning model. The
// roles are deliberately coarse; the executor works from the selector, not the
// role, so a misclassified role degrades planning quality but never safety.
type ElementRole string

const (
	RoleButton   ElementRole = "button"
	RoleTextbox  ElementRole = "textbox"
	RoleTextarea ElementRole = "textarea"
	RoleSelect   ElementRole = "select"
	RoleCheckbox ElementRole = "checkbox"
	RoleRadio    ElementRole = "radio"
	RoleFile     ElementRole = "file"
	RoleLink     ElementRole = "link"
)

// Element is one interactive element of a Snapshot. The ID is assigned by the
// snapshot builder in DOM traversal order ("e1", "e2", ...) and is only
// meaningful within the snapshot that produced it.
type Element struct {
	ID           string      `json:"id"`
	Role         ElementRole `json:"role"`
	Label        string      `json:"label"`
	CurrentValue string      `json:"current_value,omitempty"`
	// Options lists the selectable values of a RoleSelect element so the
	// planner can choose a valid one.
	Options    []string `json:"options,omitempty"`
	IsRequired bool     `json:"is_required"`
	IsEnabled  bool     `json:"is_enabled"`

	// Selector is the concrete locator the executor uses to act on this
	// element. It is runtime plumbing, never serialized for the model.
	Selector string `json:"-"`
}

// Snapshot is an immutable capture of the visible page state at one instant.
// It is produced once per loop iteration and never mutated afterwards; the
// fingerprint is the sole input to progress detection.
type Snapshot struct {
	// Fingerprint is a hash over the normalized visible text and the element
	// set. Two captures of an unchanged page must produce the same value.
	Fingerprint string    `json:"fingerprint"`
	URL         string    `json:"url"`
	VisibleText string    `json:"visible_text"`
	Elements    []Element `json:"elements"`
	// Image is an optional compressed raster of the viewport, supplied to the
	// recovery model only. Excluded from JSON to keep planner payloads small.
	Image      []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
}

// ElementByID returns the element with the given id, if present.
func (s *Snapshot) ElementByID(id string) (Element, bool) {
	for _, el := range s.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return Element{}, false
}

// RequiredEmpty returns every enabled element flagged required whose current
// value is empty. A non-empty result blocks Submit regardless of what the
// planning model claims.
func (s *Snapshot) RequiredEmpty() []Element {
	var empty []Element
	for _, el := range s.Elements {
		if el.IsRequired && el.IsEnabled && el.CurrentValue == "" {
			empty = append(empty, el)
		}
	}
	return empty
}
