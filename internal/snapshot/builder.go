// File: internal/snapshot/builder.go
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
)

// Builder turns raw page captures into normalized, fingerprinted snapshots.
// A snapshot is built once per loop iteration and never mutated afterwards.
type Builder struct {
	driver schemas.BrowserDriver
	logger *zap.Logger
}

// NewBuilder creates a snapshot builder over the given driver.
func NewBuilder(driver schemas.BrowserDriver, logger *zap.Logger) *Builder {
	return &Builder{
		driver: driver,
		logger: logger.Named("snapshot"),
	}
}

// Capture produces a snapshot of the current page. The only terminal failure
// is a lost session, reported via schemas.ErrSessionLost; anything else is
// wrapped but non-fatal to the caller's attempt.
func (b *Builder) Capture(ctx context.Context, withScreenshot bool) (*schemas.Snapshot, error) {
	raw, err := b.driver.CapturePage(ctx, withScreenshot)
	if err != nil {
		return nil, fmt.Errorf("capture page: %w", err)
	}

	visible := NormalizeText(raw.VisibleText)
	if visible == "" && raw.HTML != "" {
		// Some pages report empty innerText mid-transition; fall back to a
		// text extraction over the raw HTML.
		visible = NormalizeText(ExtractText(raw.HTML))
	}

	elements := make([]schemas.Element, 0, len(raw.Elements))
	for idx, rawEl := range raw.Elements {
		elements = append(elements, schemas.Element{
			ID:           "e" + strconv.Itoa(idx+1),
			Role:         roleFor(rawEl),
			Label:        NormalizeText(rawEl.Label),
			CurrentValue: strings.TrimSpace(rawEl.Value),
			Options:      rawEl.Options,
			IsRequired:   rawEl.Required,
			IsEnabled:    !rawEl.Disabled,
			Selector:     rawEl.Selector,
		})
	}

	snap := &schemas.Snapshot{
		URL:         raw.URL,
		VisibleText: visible,
		Elements:    elements,
		Image:       raw.Screenshot,
		CapturedAt:  time.Now().UTC(),
	}
	snap.Fingerprint = Fingerprint(snap)

	b.logger.Debug("Snapshot captured",
		zap.String("fingerprint", snap.Fingerprint[:12]),
		zap.Int("elements", len(snap.Elements)),
		zap.Int("text_len", len(snap.VisibleText)),
	)
	return snap, nil
}

// Fingerprint hashes the volatile-stripped visible text and the element set.
// Element values participate so that filling a field registers as progress
// even when the surrounding text is unchanged. Ordering is the element order,
// which is DOM traversal order, so two captures of an unchanged page hash
// identically.
func Fingerprint(snap *schemas.Snapshot) string {
	h := sha256.New()
	h.Write([]byte(StripVolatile(strings.ToLower(snap.VisibleText))))
	for _, el := range snap.Elements {
		fmt.Fprintf(h, "|%s;%s;%s;%t;%t;%s",
			el.Role, StripVolatile(strings.ToLower(el.Label)), el.CurrentValue,
			el.IsRequired, el.IsEnabled, strings.Join(el.Options, ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// roleFor maps a raw element to the coarse role vocabulary the planner sees.
func roleFor(el schemas.RawElement) schemas.ElementRole {
	switch strings.ToLower(el.Tag) {
	case "select":
		return schemas.RoleSelect
	case "textarea":
		return schemas.RoleTextarea
	case "a":
		return schemas.RoleLink
	case "button":
		return schemas.RoleButton
	case "input":
		switch strings.ToLower(el.Type) {
		case "checkbox":
			return schemas.RoleCheckbox
		case "radio":
			return schemas.RoleRadio
		case "file":
			return schemas.RoleFile
		case "button", "submit":
			return schemas.RoleButton
		default:
			return schemas.RoleTextbox
		}
	default:
		return schemas.RoleButton
	}
}
