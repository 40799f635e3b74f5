// File: internal/snapshot/normalize_test.go
package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses runs", "a  b\t\tc", "a b c"},
		{"newlines", "line one\n\nline two", "line one line two"},
		{"trims", "  padded  ", "padded"},
		{"empty", "   \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestStripVolatile(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative time", "posted 3 minutes ago by", "posted <time> by"},
		{"plural days", "updated 12 days ago", "updated <time>"},
		{"clock time", "submitted at 10:42 pm today", "submitted at <time> today"},
		{"ember id", "field ember-233 required", "field <id> required"},
		{"react aria id", "labelled by react-aria-87", "labelled by <id>"},
		{"plain text untouched", "first name required", "first name required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripVolatile(tt.in))
		})
	}
}

func TestExtractText(t *testing.T) {
	doc := `<html><head><title>t</title><style>.x{}</style></head>
<body><div>Job   title</div><script>ignore()</script><p>Apply <b>now</b></p></body></html>`
	assert.Equal(t, "Job title Apply now", ExtractText(doc))
}

func TestExtractText_BadHTMLStillWorks(t *testing.T) {
	// html.Parse repairs malformed markup rather than failing.
	assert.Equal(t, "unclosed", ExtractText("<div><p>unclosed"))
}
