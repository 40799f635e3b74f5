// File: internal/snapshot/normalize.go
package snapshot

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Patterns for page content that changes between renders without the page
// having meaningfully changed. These are masked before fingerprinting so a
// pure re-render does not read as progress.
var (
	relativeTimeRe = regexp.MustCompile(`\b\d+\s+(?:second|minute|hour|day|week|month)s?\s+ago\b`)
	clockTimeRe    = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\s*(?:am|pm)?\b`)
	generatedIDRe  = regexp.MustCompile(`\b(?:ember|react-aria|radix|aria-id|uid)[-:]?\d+\b`)
)

// NormalizeText collapses all runs of whitespace into single spaces and trims
// the result, so that layout-only differences never affect comparisons.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripVolatile masks timestamps and framework-generated identifiers in
// already-normalized text. The masked token keeps the fingerprint stable
// across re-renders while preserving surrounding context.
func StripVolatile(s string) string {
	s = relativeTimeRe.ReplaceAllString(s, "<time>")
	s = clockTimeRe.ReplaceAllString(s, "<time>")
	s = generatedIDRe.ReplaceAllString(s, "<id>")
	return s
}

// ExtractText walks an HTML document and returns its visible text content,
// skipping script, style and head subtrees. Used as a fallback when the
// driver cannot report innerText directly.
func ExtractText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return NormalizeText(sb.String())
}
