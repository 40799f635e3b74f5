// File: internal/planner/prompt.go
package planner

import (
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/applyloop/applyloop/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxVisibleTextChars = 6000

// plannerSystemPrompt fixes the action vocabulary and the planning rules.
// The batch shape it dictates must stay in sync with schemas.ActionBatch.
const plannerSystemPrompt = `You are an assistant that completes job application web forms step by step on behalf of an applicant.

You receive the current state of the page (visible text and interactive elements), the applicant's profile, and the outcomes of your previous actions. Respond with a single JSON object:

{"actions": [...], "rationale": "one short sentence"}

Each action is one of:
  {"type": "FILL_TEXT", "element_id": "...", "value": "..."}       - type into a textbox or textarea
  {"type": "SELECT_OPTION", "element_id": "...", "value": "..."}   - pick an option of a select or radio group
  {"type": "CLICK", "element_id": "..."}                            - click a button or link
  {"type": "UPLOAD_FILE", "element_id": "...", "path": "..."}       - attach a local file to a file input
  {"type": "WAIT_FOR_CHANGE", "timeout_ms": 3000}                   - wait for the page to change
  {"type": "SUBMIT", "element_id": "..."}                           - click the button that advances or submits the form step

Rules:
- Only reference element_id values that appear in the current page state.
- Use SUBMIT, not CLICK, for buttons labelled Submit, Next, Review or Continue.
- Never SUBMIT while a required field is still empty; fill it first.
- Answer screening questions from the applicant profile. If the profile has no answer, give a truthful neutral answer rather than inventing credentials.
- For file inputs asking for a resume or CV, use the resume path from the profile.
- Prefer a small number of actions that fill what is visible now; the page is re-read after every batch.
- Respond with JSON only.`

// BuildStatePrompt assembles the page state, applicant profile and action
// history into one prompt body. The recovery escalator shares it, feeding the
// full history where the planner feeds a tail.
func BuildStatePrompt(snap *schemas.Snapshot, tail []schemas.ActionOutcome, profile schemas.ProfileProvider, maxBatch int) string {
	var sb strings.Builder

	sb.WriteString("## Current page\n")
	fmt.Fprintf(&sb, "URL: %s\n\n", snap.URL)

	text := snap.VisibleText
	if len(text) > maxVisibleTextChars {
		text = text[:maxVisibleTextChars] + " [truncated]"
	}
	fmt.Fprintf(&sb, "Visible text:\n%s\n\n", text)

	sb.WriteString("Interactive elements:\n")
	elems, err := json.MarshalIndent(snap.Elements, "", "  ")
	if err == nil {
		sb.Write(elems)
	}
	sb.WriteString("\n\n")

	sb.WriteString("## Applicant profile\n")
	writeSortedMap(&sb, profile.Summary())

	if answers := defaultAnswersOf(profile); len(answers) > 0 {
		sb.WriteString("\nCanned answers to screening questions:\n")
		writeSortedMap(&sb, answers)
	}

	if len(tail) > 0 {
		sb.WriteString("\n## Recent action outcomes (oldest first)\n")
		hist, err := json.MarshalIndent(tail, "", "  ")
		if err == nil {
			sb.Write(hist)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\nPlan the next batch of at most %d actions.\n", maxBatch)
	return sb.String()
}

// defaultAnswersOf pulls canned answers when the provider exposes them.
// The narrow ProfileProvider contract stays answer-oriented; this is an
// optional widening for prompt construction.
func defaultAnswersOf(p schemas.ProfileProvider) map[string]string {
	if withAnswers, ok := p.(interface{ DefaultAnswers() map[string]string }); ok {
		return withAnswers.DefaultAnswers()
	}
	return nil
}

func writeSortedMap(sb *strings.Builder, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "- %s: %s\n", k, m[k])
	}
}
